package domain

import (
	"errors"
	"time"
)

// SessionID identifies the conversation/room a call belongs to. A room has at
// most one active call at a time, so it also keys the call session.
type SessionID string

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

var ErrBadMediaKind = errors.New("bad media kind")

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case MediaAudio, MediaVideo:
		return MediaKind(s), nil
	}
	return "", ErrBadMediaKind
}

// TranscriptSegment is one finalized speech-to-text fragment relayed during a
// call and buffered for persistence at teardown.
type TranscriptSegment struct {
	UserID    UserID    `json:"userId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// CallSession is the authoritative record of one active call.
// All mutation goes through hub.SessionRegistry; this struct carries no locks.
type CallSession struct {
	ID           SessionID
	InitiatorID  UserID
	Participants map[UserID]struct{}
	// Rung holds users who were rung but have not joined yet; they must still
	// hear about the session ending even though they never became participants.
	Rung       map[UserID]struct{}
	Media      MediaKind
	StartedAt  time.Time
	Transcript []TranscriptSegment
}

func NewCallSession(id SessionID, initiator UserID, media MediaKind) *CallSession {
	return &CallSession{
		ID:           id,
		InitiatorID:  initiator,
		Participants: map[UserID]struct{}{initiator: {}},
		Rung:         make(map[UserID]struct{}),
		Media:        media,
		StartedAt:    time.Now(),
	}
}

func (s *CallSession) HasParticipant(u UserID) bool {
	_, ok := s.Participants[u]
	return ok
}

// ParticipantsExcept returns the participant set minus one user, in no
// particular order.
func (s *CallSession) ParticipantsExcept(u UserID) []UserID {
	out := make([]UserID, 0, len(s.Participants))
	for p := range s.Participants {
		if p != u {
			out = append(out, p)
		}
	}
	return out
}
