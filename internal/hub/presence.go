package hub

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/domain"
)

// PresenceTracker keeps the per-session participant refcounts. Each joined
// connection counts once, so a user on two tabs stays present until both
// leave: increments and decrements must stay symmetric over a session's life.
type PresenceTracker struct {
	dir *Directory

	mu     sync.RWMutex
	counts map[domain.SessionID]map[domain.UserID]int
}

func NewPresenceTracker(dir *Directory) *PresenceTracker {
	return &PresenceTracker{
		dir:    dir,
		counts: make(map[domain.SessionID]map[domain.UserID]int),
	}
}

// Join increments the (session, user) refcount and reports whether this was
// the user's first joined connection for the session.
func (p *PresenceTracker) Join(session domain.SessionID, user domain.UserID) (count int, first bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.counts[session]
	if !ok {
		users = make(map[domain.UserID]int)
		p.counts[session] = users
	}
	users[user]++
	count = users[user]
	log.Debug().Str("module", "hub.presence").Str("session", string(session)).Str("user", string(user)).Int("count", count).Msg("presence join")
	return count, count == 1
}

// Leave decrements the refcount; the entry is removed only at zero so a
// multi-tab leave never falsely signals departure. Reports whether the user
// is now fully gone from the session.
func (p *PresenceTracker) Leave(session domain.SessionID, user domain.UserID) (count int, gone bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.counts[session]
	if !ok {
		return 0, false
	}
	c, ok := users[user]
	if !ok {
		return 0, false
	}
	c--
	if c <= 0 {
		delete(users, user)
		if len(users) == 0 {
			delete(p.counts, session)
		}
		log.Debug().Str("module", "hub.presence").Str("session", string(session)).Str("user", string(user)).Msg("presence gone")
		return 0, true
	}
	users[user] = c
	return c, false
}

// Present returns the users with a nonzero refcount for the session.
func (p *PresenceTracker) Present(session domain.SessionID) []domain.UserID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.UserID, 0, len(p.counts[session]))
	for u := range p.counts[session] {
		out = append(out, u)
	}
	return out
}

// OnlineUsers is the global online set, straight from the directory.
func (p *PresenceTracker) OnlineUsers() []domain.UserID {
	return p.dir.OnlineUsers()
}
