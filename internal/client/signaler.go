package client

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/signal"
)

// Signaler is the persistent, ordered signaling channel as the client sees
// it. Tests substitute channel-backed fakes.
type Signaler interface {
	Send(env signal.Envelope) error
	Events() <-chan signal.Envelope
	Close() error
}

// WSSignaler speaks the server's websocket endpoint. The session cookie that
// authenticates the connection comes from the host product's login flow.
type WSSignaler struct {
	conn   *websocket.Conn
	events chan signal.Envelope

	writeMu sync.Mutex
	once    sync.Once
}

func DialSignaler(ctx context.Context, url string, sessionCookie *http.Cookie) (*WSSignaler, error) {
	header := http.Header{}
	if sessionCookie != nil {
		header.Set("Cookie", sessionCookie.String())
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	s := &WSSignaler{conn: conn, events: make(chan signal.Envelope, 32)}
	go s.readLoop()
	return s, nil
}

func (s *WSSignaler) readLoop() {
	defer close(s.events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "client.signaler").Msg("read loop done")
			return
		}
		env, err := signal.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client.signaler").Msg("bad server frame")
			continue
		}
		s.events <- env
	}
}

func (s *WSSignaler) Send(env signal.Envelope) error {
	b, err := signal.Marshal(env)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func (s *WSSignaler) Events() <-chan signal.Envelope { return s.events }

func (s *WSSignaler) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close()
	})
	return err
}
