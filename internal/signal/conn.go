package signal

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/hub"
	"github.com/majid78715/Jira-V1-sub001/internal/metrics"
)

var errConnClosed = errors.New("connection closed")

const writeDeadline = 5 * time.Second

// wsConn adapts one websocket to hub.Conn: a buffered send channel drained by
// the write pump, TrySend that drops instead of blocking, and a slow-consumer
// kick after too many consecutive drops.
type wsConn struct {
	conn *websocket.Conn
	send chan hub.Frame

	kickAfter  int
	pingPeriod time.Duration

	mu     sync.RWMutex
	closed bool
	drops  int
}

func newWSConn(ws *websocket.Conn, buffer, kickAfter int, pingPeriod time.Duration) *wsConn {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &wsConn{
		conn:       ws,
		send:       make(chan hub.Frame, buffer),
		kickAfter:  kickAfter,
		pingPeriod: pingPeriod,
	}
}

func (c *wsConn) TrySend(f hub.Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errConnClosed
	}
	select {
	case c.send <- f:
		c.drops = 0
		c.mu.Unlock()
		return nil
	default:
	}
	c.drops++
	kick := c.kickAfter > 0 && c.drops >= c.kickAfter
	c.mu.Unlock()

	if kick {
		metrics.SlowConsumerKicksTotal.Inc()
		log.Warn().Str("module", "signal").Msg("kicking slow consumer")
		c.Close()
	}
	return hub.ErrBackpressure
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *wsConn) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}
