package hub

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/domain"
	"github.com/majid78715/Jira-V1-sub001/internal/metrics"
)

// Frame is one encoded signaling message.
type Frame []byte

// ConnID identifies a single transport connection. One user may hold several
// at once (multiple devices/tabs).
type ConnID string

var ErrBackpressure = errors.New("backpressure")

// Conn abstracts a live transport endpoint. Owned by the adapter; the adapter
// must Close() it.
type Conn interface {
	TrySend(Frame) error
	Close()
}

type connEntry struct {
	user domain.UserID
	conn Conn
}

// Directory maps authenticated identities to their live connections.
type Directory struct {
	mu     sync.RWMutex
	byConn map[ConnID]connEntry
	byUser map[domain.UserID]map[ConnID]Conn
}

func NewDirectory() *Directory {
	return &Directory{
		byConn: make(map[ConnID]connEntry),
		byUser: make(map[domain.UserID]map[ConnID]Conn),
	}
}

func (d *Directory) Register(user domain.UserID, conn Conn) ConnID {
	id := ConnID(uuid.NewString())
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byConn[id] = connEntry{user: user, conn: conn}
	set, ok := d.byUser[user]
	if !ok {
		set = make(map[ConnID]Conn)
		d.byUser[user] = set
	}
	set[id] = conn
	metrics.LiveConnections.Inc()
	metrics.OnlineUsers.Set(float64(len(d.byUser)))
	log.Info().Str("module", "hub.directory").Str("conn", string(id)).Str("user", string(user)).Msg("connection registered")
	return id
}

func (d *Directory) Unregister(id ConnID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.byConn[id]
	if !ok {
		return
	}
	delete(d.byConn, id)
	if set, ok := d.byUser[entry.user]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(d.byUser, entry.user)
		}
	}
	metrics.LiveConnections.Dec()
	metrics.OnlineUsers.Set(float64(len(d.byUser)))
	log.Info().Str("module", "hub.directory").Str("conn", string(id)).Str("user", string(entry.user)).Msg("connection unregistered")
}

func (d *Directory) UserOf(id ConnID) (domain.UserID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.byConn[id]
	return entry.user, ok
}

// ConnsOf returns every live connection of a user.
func (d *Directory) ConnsOf(user domain.UserID) []Conn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Conn, 0, len(d.byUser[user]))
	for _, c := range d.byUser[user] {
		out = append(out, c)
	}
	return out
}

// Online reports whether the user has at least one live connection.
func (d *Directory) Online(user domain.UserID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byUser[user]) > 0
}

func (d *Directory) OnlineUsers() []domain.UserID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.UserID, 0, len(d.byUser))
	for u := range d.byUser {
		out = append(out, u)
	}
	return out
}

// SendTo fans a frame out to all of a user's connections and returns how many
// accepted it. Slow consumers drop the frame; the caller decides what a drop
// means.
func (d *Directory) SendTo(user domain.UserID, f Frame) int {
	sent := 0
	for _, c := range d.ConnsOf(user) {
		if err := c.TrySend(f); err != nil {
			log.Warn().Str("module", "hub.directory").Str("user", string(user)).Err(err).Msg("frame dropped")
			continue
		}
		sent++
	}
	return sent
}

func (d *Directory) CloseAll() {
	d.mu.Lock()
	conns := make([]Conn, 0, len(d.byConn))
	for _, e := range d.byConn {
		conns = append(conns, e.conn)
	}
	d.byConn = make(map[ConnID]connEntry)
	d.byUser = make(map[domain.UserID]map[ConnID]Conn)
	d.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
