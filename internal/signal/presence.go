package signal

import (
	"context"

	"github.com/majid78715/Jira-V1-sub001/internal/domain"
)

// handleJoin marks this connection present in a room. Several tabs of one
// user count separately; duplicate joins on one connection are ignored so the
// refcount stays symmetric with leaves.
func (ep *endpoint) handleJoin(ctx context.Context, env Envelope) {
	session := domain.SessionID(env.SessionID)
	if !ep.isMember(ctx, session) {
		ep.sendError(ErrNotMember)
		return
	}
	if _, ok := ep.joinedRooms[session]; ok {
		return
	}
	ep.joinedRooms[session] = struct{}{}
	ep.ctl.Hub.Presence.Join(session, ep.user)
	ep.ctl.broadcastPresence(session)
}

func (ep *endpoint) handleLeave(env Envelope) {
	session := domain.SessionID(env.SessionID)
	if _, ok := ep.joinedRooms[session]; !ok {
		return
	}
	delete(ep.joinedRooms, session)
	ep.leaveRoom(session)
}

func (ep *endpoint) leaveRoom(session domain.SessionID) {
	ep.ctl.Hub.Presence.Leave(session, ep.user)
	ep.ctl.broadcastPresence(session)
}

// broadcastPresence sends the session-scoped online set to everyone currently
// present in that session.
func (ctl *Controller) broadcastPresence(session domain.SessionID) {
	present := ctl.Hub.Presence.Present(session)
	list := make([]string, 0, len(present))
	for _, u := range present {
		list = append(list, string(u))
	}
	ctl.broadcastToUsers(present, Envelope{
		Type:          EventPresenceUpdate,
		SessionID:     string(session),
		OnlineUserIDs: list,
	})
}

// handlePresenceRequest answers with the global online set.
func (ep *endpoint) handlePresenceRequest() {
	online := ep.ctl.Hub.Presence.OnlineUsers()
	list := make([]string, 0, len(online))
	for _, u := range online {
		list = append(list, string(u))
	}
	ep.sendJSON(Envelope{Type: EventPresenceUpdate, OnlineUserIDs: list})
}
