// Package signal is the protocol router: it owns the websocket endpoints,
// validates every inbound event against the authenticated identity and room
// membership, mutates the hub registries and fans results back out.
package signal

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/config"
	"github.com/majid78715/Jira-V1-sub001/internal/domain"
	"github.com/majid78715/Jira-V1-sub001/internal/hub"
	"github.com/majid78715/Jira-V1-sub001/internal/metrics"
)

type Controller struct {
	Hub *hub.Hub
	Cfg *config.Config

	invites *inviteLimiter
}

func NewController(h *hub.Hub, cfg *config.Config) *Controller {
	return &Controller{
		Hub:     h,
		Cfg:     cfg,
		invites: newInviteLimiter(cfg.InviteRateLimit, cfg.InviteRateWindow),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// endpoint is the per-connection state. Its maps are touched only from the
// read pump goroutine, so they need no lock.
type endpoint struct {
	ctl    *Controller
	user   domain.UserID
	connID hub.ConnID
	conn   *wsConn
	out    hub.Conn

	joinedRooms map[domain.SessionID]struct{}
	joinedCalls map[domain.SessionID]struct{}
}

// HandleSignal upgrades an authenticated request to the persistent signaling
// channel. Authentication happened in middleware; an unauthenticated request
// never reaches the upgrade.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString("user_id"))
	if uid == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := newWSConn(ws, ctl.Cfg.SendBuffer, ctl.Cfg.SlowKickThreshold, ctl.Cfg.PingPeriod)
	ep := &endpoint{
		ctl:         ctl,
		user:        uid,
		conn:        conn,
		out:         conn,
		joinedRooms: make(map[domain.SessionID]struct{}),
		joinedCalls: make(map[domain.SessionID]struct{}),
	}
	ep.connID = ctl.Hub.Directory.Register(uid, conn)
	log.Info().Str("module", "signal").Str("user", string(uid)).Str("conn", string(ep.connID)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go conn.writePump(ctx.Done())
	go ep.readPump(ctx, cancel)
}

func (ep *endpoint) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		ep.onDisconnect(ctx)
		ep.conn.Close()
		log.Info().Str("module", "signal").Str("user", string(ep.user)).Str("conn", string(ep.connID)).Msg("readPump closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := ep.conn.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("user", string(ep.user)).Msg("readPump read error")
				return
			}
			ep.handle(ctx, data)
		}
	}
}

func (ep *endpoint) handle(ctx context.Context, data []byte) {
	env, err := Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(ep.user)).Msg("bad message")
		ep.sendError(ErrBadPayload)
		return
	}
	metrics.EventsTotal.WithLabelValues(string(env.Type)).Inc()

	// The actor is the authenticated user, always. A forged fromUserId is a
	// protocol error, not a crash.
	if env.From != "" && domain.UserID(env.From) != ep.user {
		ep.sendError(ErrSpoofedSender)
		return
	}
	if err := env.ValidateInbound(); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(ep.user)).Msg("invalid event")
		ep.sendError(ErrBadPayload)
		return
	}

	switch env.Type {
	case EventJoin:
		ep.handleJoin(ctx, env)
	case EventLeave:
		ep.handleLeave(env)
	case EventInvite:
		ep.handleInvite(ctx, env)
	case EventOffer, EventAnswer, EventCandidate:
		ep.handleNegotiation(ctx, env, data)
	case EventAudio:
		ep.handleAudio(env, data)
	case EventTranscript:
		ep.handleTranscript(env, data)
	case EventCallJoin:
		ep.handleCallJoin(ctx, env)
	case EventEnd:
		ep.handleEnd(ctx, env)
	case EventPresenceRequest:
		ep.handlePresenceRequest()
	case EventPing:
		ep.sendJSON(Envelope{Type: EventPong})
	default:
		// ValidateInbound already filtered server-emitted and unknown types.
		ep.sendError(ErrUnknownEvent)
	}
}

// onDisconnect runs the same departure path as explicit leave/end, silently,
// for everything this connection had joined.
func (ep *endpoint) onDisconnect(ctx context.Context) {
	for session := range ep.joinedCalls {
		ep.endCall(ctx, session, "disconnected")
	}
	for session := range ep.joinedRooms {
		ep.leaveRoom(session)
	}
	ep.ctl.Hub.Directory.Unregister(ep.connID)
}

func (ep *endpoint) sendJSON(env Envelope) {
	b, err := Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal outbound")
		return
	}
	_ = ep.out.TrySend(b)
}

func (ep *endpoint) sendError(reason error) {
	metrics.ProtocolErrorsTotal.WithLabelValues(reason.Error()).Inc()
	ep.sendJSON(Envelope{Type: EventError, Message: reason.Error()})
}

// broadcastToUsers marshals once and fans out to every live connection of the
// given users.
func (ctl *Controller) broadcastToUsers(users []domain.UserID, env Envelope) {
	b, err := Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("marshal broadcast")
		return
	}
	for _, u := range users {
		ctl.Hub.Directory.SendTo(u, b)
	}
}

// isMember consults the collaborator membership lookup; lookup failures deny.
func (ep *endpoint) isMember(ctx context.Context, session domain.SessionID) bool {
	return ep.memberOf(ctx, session, ep.user)
}

func (ep *endpoint) memberOf(ctx context.Context, session domain.SessionID, user domain.UserID) bool {
	ok, err := ep.ctl.Hub.Membership.IsMember(ctx, session, user)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("session", string(session)).Str("user", string(user)).Msg("membership lookup")
		return false
	}
	return ok
}
