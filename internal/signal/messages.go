package signal

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pion/webrtc/v4"
)

// EventType is the closed set of signaling events. Dispatch switches over it
// exhaustively; adding a kind here forces every call site to decide.
type EventType string

const (
	EventJoin            EventType = "join"
	EventLeave           EventType = "leave"
	EventInvite          EventType = "invite"
	EventRinging         EventType = "ringing"
	EventOffer           EventType = "offer"
	EventAnswer          EventType = "answer"
	EventCandidate       EventType = "candidate"
	EventAudio           EventType = "audio"
	EventTranscript      EventType = "transcript"
	EventCallJoin        EventType = "call-join"
	EventJoined          EventType = "joined"
	EventParticipants    EventType = "participants"
	EventEnd             EventType = "end"
	EventEnded           EventType = "ended"
	EventError           EventType = "error"
	EventPresenceRequest EventType = "presence-request"
	EventPresenceUpdate  EventType = "presence-update"
	EventPing            EventType = "ping"
	EventPong            EventType = "pong"
)

// CandidateInit mirrors the browser's RTCIceCandidateInit shape on the wire.
type CandidateInit struct {
	Candidate     string  `json:"candidate" validate:"required"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

func (c CandidateInit) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}

func CandidateFromPion(init webrtc.ICECandidateInit) CandidateInit {
	return CandidateInit{
		Candidate:     init.Candidate,
		SDPMid:        init.SDPMid,
		SDPMLineIndex: init.SDPMLineIndex,
	}
}

// Envelope is the single wire message. Which fields must be present depends
// on Type; ValidateInbound enforces that for events clients may send.
type Envelope struct {
	Type      EventType `json:"type" validate:"required"`
	SessionID string    `json:"sessionId,omitempty" validate:"max=64"`
	From      string    `json:"fromUserId,omitempty" validate:"max=36"`
	To        string    `json:"toUserId,omitempty" validate:"max=36"`
	UserID    string    `json:"userId,omitempty" validate:"max=36"`
	Media     string    `json:"media,omitempty" validate:"omitempty,oneof=audio video"`

	SDP       string         `json:"sdp,omitempty"`
	Candidate *CandidateInit `json:"candidate,omitempty"`

	// Audio relay: base64 PCM16 mono 16kHz.
	Chunk string `json:"chunk,omitempty" validate:"omitempty,base64"`

	// Transcript relay.
	Text      string `json:"text,omitempty"`
	IsFinal   bool   `json:"isFinal,omitempty"`
	Language  string `json:"language,omitempty" validate:"max=16"`
	Timestamp int64  `json:"timestamp,omitempty"`

	Reason        string   `json:"reason,omitempty" validate:"max=64"`
	EndedBy       string   `json:"endedByUserId,omitempty"`
	Participants  []string `json:"participants,omitempty"`
	OnlineUserIDs []string `json:"onlineUserIds,omitempty"`
	Message       string   `json:"message,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode parses and field-validates one wire message. Per-type requirements
// are checked separately by ValidateInbound so receivers of server-emitted
// events can reuse this.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	if err := validate.Struct(&env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// ValidateInbound checks the per-type required fields for client-sent events
// and rejects server-only event types.
func (m *Envelope) ValidateInbound() error {
	switch m.Type {
	case EventJoin, EventLeave, EventCallJoin:
		if m.SessionID == "" {
			return fmt.Errorf("%s: missing sessionId", m.Type)
		}
	case EventInvite:
		if m.SessionID == "" || m.Media == "" {
			return fmt.Errorf("invite: missing sessionId/media")
		}
	case EventOffer, EventAnswer:
		if m.SessionID == "" || m.To == "" || m.SDP == "" {
			return fmt.Errorf("%s: missing sessionId/toUserId/sdp", m.Type)
		}
	case EventCandidate:
		if m.SessionID == "" || m.To == "" || m.Candidate == nil {
			return fmt.Errorf("candidate: missing sessionId/toUserId/candidate")
		}
	case EventAudio:
		if m.SessionID == "" || m.To == "" || m.Chunk == "" {
			return fmt.Errorf("audio: missing sessionId/toUserId/chunk")
		}
	case EventTranscript:
		if m.SessionID == "" || m.To == "" || m.Text == "" {
			return fmt.Errorf("transcript: missing sessionId/toUserId/text")
		}
	case EventEnd:
		if m.SessionID == "" {
			return fmt.Errorf("end: missing sessionId")
		}
	case EventPresenceRequest, EventPing:
		// No payload.
	case EventRinging, EventJoined, EventParticipants, EventEnded,
		EventError, EventPresenceUpdate, EventPong:
		return fmt.Errorf("%s: server-emitted event", m.Type)
	default:
		return fmt.Errorf("unsupported event type %q", m.Type)
	}
	return nil
}

// Marshal encodes an outbound envelope. Marshaling a struct of strings cannot
// fail; the error path exists for completeness.
func Marshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
