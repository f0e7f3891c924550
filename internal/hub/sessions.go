package hub

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/domain"
	"github.com/majid78715/Jira-V1-sub001/internal/metrics"
)

var (
	ErrSessionActive = errors.New("call already active")
	ErrNoSession     = errors.New("no such call session")
	ErrNotInCall     = errors.New("not a call participant")
	ErrAlreadyJoined = errors.New("already a call participant")
)

// SessionSnapshot is a read-only copy handed to adapters; mutation happens
// only under the registry lock.
type SessionSnapshot struct {
	ID           domain.SessionID `json:"sessionId"`
	InitiatorID  domain.UserID    `json:"initiatorUserId"`
	Participants []domain.UserID  `json:"participants"`
	Rung         []domain.UserID  `json:"rungUserIds,omitempty"`
	Media        domain.MediaKind `json:"media"`
	StartedAt    time.Time        `json:"startedAt"`
}

// SessionRegistry is the authoritative map of active call sessions. A session
// exists only while its participant set is non-empty; removal of the last
// participant deletes it atomically and hands the transcript back for
// flushing, so no concurrent handler can observe an empty session.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*domain.CallSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[domain.SessionID]*domain.CallSession)}
}

func (r *SessionRegistry) Create(id domain.SessionID, initiator domain.UserID, media domain.MediaKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return ErrSessionActive
	}
	r.sessions[id] = domain.NewCallSession(id, initiator, media)
	metrics.ActiveCallSessions.Set(float64(len(r.sessions)))
	metrics.CallSessionsTotal.Inc()
	log.Info().Str("module", "hub.sessions").Str("session", string(id)).Str("initiator", string(initiator)).Str("media", string(media)).Msg("call session created")
	return nil
}

func (r *SessionRegistry) Get(id domain.SessionID) (SessionSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return SessionSnapshot{}, false
	}
	return snapshot(s), true
}

func (r *SessionRegistry) List() []SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionSnapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, snapshot(s))
	}
	return out
}

// AddParticipant admits a user and returns the participants that were already
// in the call, which is exactly the set the newcomer must offer toward.
func (r *SessionRegistry) AddParticipant(id domain.SessionID, user domain.UserID) ([]domain.UserID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNoSession
	}
	if s.HasParticipant(user) {
		return nil, ErrAlreadyJoined
	}
	existing := s.ParticipantsExcept(user)
	s.Participants[user] = struct{}{}
	delete(s.Rung, user)
	log.Info().Str("module", "hub.sessions").Str("session", string(id)).Str("user", string(user)).Int("participants", len(s.Participants)).Msg("participant joined")
	return existing, nil
}

// RemoveParticipant drops a user from the session. When the set becomes empty
// the session is deleted in the same critical section and its transcript is
// returned for persistence.
func (r *SessionRegistry) RemoveParticipant(id domain.SessionID, user domain.UserID) (remaining []domain.UserID, transcript []domain.TranscriptSegment, deleted bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, nil, false, ErrNoSession
	}
	if !s.HasParticipant(user) {
		return nil, nil, false, ErrNotInCall
	}
	delete(s.Participants, user)
	if len(s.Participants) == 0 {
		delete(r.sessions, id)
		metrics.ActiveCallSessions.Set(float64(len(r.sessions)))
		log.Info().Str("module", "hub.sessions").Str("session", string(id)).Msg("call session ended")
		return nil, s.Transcript, true, nil
	}
	log.Info().Str("module", "hub.sessions").Str("session", string(id)).Str("user", string(user)).Int("participants", len(s.Participants)).Msg("participant left")
	return s.ParticipantsExcept(""), nil, false, nil
}

// AppendTranscript buffers one finalized segment; a missing session is not an
// error, the segment is simply not recorded.
func (r *SessionRegistry) AppendTranscript(id domain.SessionID, seg domain.TranscriptSegment) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.Transcript = append(s.Transcript, seg)
	return true
}

// IsParticipant reports call membership without copying the snapshot.
func (r *SessionRegistry) IsParticipant(id domain.SessionID, user domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return ok && s.HasParticipant(user)
}

// MarkRung records users as rung for the session so a later teardown can
// still reach them. Reports whether the session was found.
func (r *SessionRegistry) MarkRung(id domain.SessionID, users ...domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	for _, u := range users {
		s.Rung[u] = struct{}{}
	}
	return true
}

// UnmarkRung drops a rung entry, for a callee that declined.
func (r *SessionRegistry) UnmarkRung(id domain.SessionID, user domain.UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		delete(s.Rung, user)
	}
}

func snapshot(s *domain.CallSession) SessionSnapshot {
	rung := make([]domain.UserID, 0, len(s.Rung))
	for u := range s.Rung {
		rung = append(rung, u)
	}
	return SessionSnapshot{
		ID:           s.ID,
		InitiatorID:  s.InitiatorID,
		Participants: s.ParticipantsExcept(""),
		Rung:         rung,
		Media:        s.Media,
		StartedAt:    s.StartedAt,
	}
}
