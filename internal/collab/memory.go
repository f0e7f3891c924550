package collab

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/domain"
)

// MemoryMembership is a mutex-guarded membership table. It serves dev mode and
// tests; production wires the host product's store behind the same port.
type MemoryMembership struct {
	mu    sync.RWMutex
	rooms map[domain.SessionID]map[domain.UserID]struct{}
}

func NewMemoryMembership() *MemoryMembership {
	return &MemoryMembership{rooms: make(map[domain.SessionID]map[domain.UserID]struct{})}
}

func (m *MemoryMembership) Add(room domain.SessionID, users ...domain.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.rooms[room]
	if !ok {
		set = make(map[domain.UserID]struct{})
		m.rooms[room] = set
	}
	for _, u := range users {
		set[u] = struct{}{}
	}
}

func (m *MemoryMembership) IsMember(_ context.Context, room domain.SessionID, user domain.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[room][user]
	return ok, nil
}

func (m *MemoryMembership) Members(_ context.Context, room domain.SessionID) ([]domain.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.UserID, 0, len(m.rooms[room]))
	for u := range m.rooms[room] {
		out = append(out, u)
	}
	return out, nil
}

// LogActivity writes audit entries to the process log only.
type LogActivity struct{}

func (LogActivity) Record(_ context.Context, e ActivityEntry) {
	log.Info().
		Str("module", "collab.activity").
		Str("room", string(e.Room)).
		Str("user", string(e.UserID)).
		Str("action", e.Action).
		Msg("activity")
}

// LogNotifier logs notifications instead of dispatching them.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, to domain.UserID, n Notification) {
	log.Info().
		Str("module", "collab.notify").
		Str("to", string(to)).
		Str("room", string(n.Room)).
		Str("kind", n.Kind).
		Msg(n.Message)
}

// MemoryAttachments keeps saved transcripts in memory, keyed by attachment id.
type MemoryAttachments struct {
	mu    sync.Mutex
	saved map[string][]domain.TranscriptSegment
}

func NewMemoryAttachments() *MemoryAttachments {
	return &MemoryAttachments{saved: make(map[string][]domain.TranscriptSegment)}
}

func (a *MemoryAttachments) SaveTranscript(_ context.Context, room domain.SessionID, segments []domain.TranscriptSegment) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := uuid.NewString()
	cp := make([]domain.TranscriptSegment, len(segments))
	copy(cp, segments)
	a.saved[id] = cp
	log.Info().
		Str("module", "collab.attachments").
		Str("room", string(room)).
		Str("attachment_id", id).
		Int("segments", len(cp)).
		Time("at", time.Now()).
		Msg("transcript saved")
	return id, nil
}

// Saved returns the transcript stored under id, for tests.
func (a *MemoryAttachments) Saved(id string) ([]domain.TranscriptSegment, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	segs, ok := a.saved[id]
	return segs, ok
}

// Count reports how many transcripts have been persisted.
func (a *MemoryAttachments) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.saved)
}
