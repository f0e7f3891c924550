package signal

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/collab"
	"github.com/majid78715/Jira-V1-sub001/internal/domain"
	"github.com/majid78715/Jira-V1-sub001/internal/hub"
)

// handleInvite creates the call session and rings the callees. A direct call
// must reach its one target; a group call tolerates an empty ring and the
// session persists for later joiners.
func (ep *endpoint) handleInvite(ctx context.Context, env Envelope) {
	if !ep.ctl.invites.Allow(ep.user) {
		ep.sendError(ErrRateLimited)
		return
	}

	session := domain.SessionID(env.SessionID)
	if !ep.isMember(ctx, session) {
		ep.sendError(ErrNotMember)
		return
	}
	media, err := domain.ParseMediaKind(env.Media)
	if err != nil {
		ep.sendError(ErrBadPayload)
		return
	}

	if err := ep.ctl.Hub.Sessions.Create(session, ep.user, media); err != nil {
		ep.sendError(hub.ErrSessionActive)
		return
	}
	ep.joinedCalls[session] = struct{}{}

	ringing := Envelope{
		Type:      EventRinging,
		SessionID: env.SessionID,
		From:      string(ep.user),
		Media:     string(media),
	}

	if env.To != "" {
		// Direct call: ring exactly the target, fail if it has no connection.
		target := domain.UserID(env.To)
		if !ep.ctl.Hub.Directory.Online(target) {
			delete(ep.joinedCalls, session)
			if _, _, err := ep.ctl.Hub.RemoveFromCall(ctx, session, ep.user, "unreachable"); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("session", env.SessionID).Msg("invite rollback")
			}
			ep.sendError(ErrUnreachable)
			return
		}
		ep.ctl.broadcastToUsers([]domain.UserID{target}, ringing)
		ep.ctl.Hub.Sessions.MarkRung(session, target)
		ep.ctl.Hub.Notifier.Notify(ctx, target, collab.Notification{
			Room:    session,
			Kind:    "incoming-call",
			Message: "Incoming " + string(media) + " call",
		})
	} else {
		// Group call: ring every reachable room member; zero reachable is not
		// an error, the session waits.
		members, err := ep.ctl.Hub.Membership.Members(ctx, session)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Str("session", env.SessionID).Msg("members lookup")
			members = nil
		}
		targets := make([]domain.UserID, 0, len(members))
		for _, m := range members {
			if m != ep.user && ep.ctl.Hub.Directory.Online(m) {
				targets = append(targets, m)
			}
		}
		ep.ctl.broadcastToUsers(targets, ringing)
		ep.ctl.Hub.Sessions.MarkRung(session, targets...)
	}

	ep.ctl.Hub.Activity.Record(ctx, collab.ActivityEntry{
		Room:   session,
		UserID: ep.user,
		Action: "call:invite",
		At:     time.Now(),
	})
}

// handleNegotiation validates an offer/answer/candidate and forwards the raw
// frame verbatim to every live connection of the target. Both ends of the
// forward must be room members; a forged toUserId must never leak session
// signaling to an outsider.
func (ep *endpoint) handleNegotiation(ctx context.Context, env Envelope, raw []byte) {
	session := domain.SessionID(env.SessionID)
	if !ep.isMember(ctx, session) {
		ep.sendError(ErrNotMember)
		return
	}
	target := domain.UserID(env.To)
	if !ep.memberOf(ctx, session, target) {
		ep.sendError(ErrNotMember)
		return
	}
	if _, ok := ep.ctl.Hub.Sessions.Get(session); !ok {
		ep.sendError(ErrNoActiveCall)
		return
	}
	if sent := ep.ctl.Hub.Directory.SendTo(target, raw); sent == 0 {
		log.Debug().Str("module", "signal").Str("type", string(env.Type)).Str("to", env.To).Msg("negotiation target offline")
	}
}

// handleCallJoin admits a post-accept joiner. The joiner alone receives the
// current participant list; everyone already in the call only learns the
// newcomer's identity. That asymmetry is what keeps both sides from offering
// at once.
func (ep *endpoint) handleCallJoin(ctx context.Context, env Envelope) {
	if !ep.ctl.invites.Allow(ep.user) {
		ep.sendError(ErrRateLimited)
		return
	}
	session := domain.SessionID(env.SessionID)
	if !ep.isMember(ctx, session) {
		ep.sendError(ErrNotMember)
		return
	}

	existing, err := ep.ctl.Hub.Sessions.AddParticipant(session, ep.user)
	switch {
	case err == nil:
	case errors.Is(err, hub.ErrAlreadyJoined):
		// A second tab of a participant: resend the list, notify nobody.
		snap, ok := ep.ctl.Hub.Sessions.Get(session)
		if !ok {
			ep.sendError(ErrNoActiveCall)
			return
		}
		existing = make([]domain.UserID, 0, len(snap.Participants))
		for _, p := range snap.Participants {
			if p != ep.user {
				existing = append(existing, p)
			}
		}
		ep.sendJSON(participantsEnvelope(env.SessionID, existing))
		return
	default:
		ep.sendError(ErrNoActiveCall)
		return
	}
	ep.joinedCalls[session] = struct{}{}

	if domain.SendsFirstOffer(domain.RoleNewcomer) {
		ep.sendJSON(participantsEnvelope(env.SessionID, existing))
	}
	if !domain.SendsFirstOffer(domain.RoleExisting) {
		ep.ctl.broadcastToUsers(existing, Envelope{
			Type:      EventJoined,
			SessionID: env.SessionID,
			UserID:    string(ep.user),
		})
	}

	ep.ctl.Hub.Activity.Record(ctx, collab.ActivityEntry{
		Room:   session,
		UserID: ep.user,
		Action: "call:join",
		At:     time.Now(),
	})
}

func participantsEnvelope(session string, users []domain.UserID) Envelope {
	list := make([]string, 0, len(users))
	for _, u := range users {
		list = append(list, string(u))
	}
	return Envelope{Type: EventParticipants, SessionID: session, Participants: list}
}

func (ep *endpoint) handleEnd(ctx context.Context, env Envelope) {
	session := domain.SessionID(env.SessionID)
	if !ep.isMember(ctx, session) {
		ep.sendError(ErrNotMember)
		return
	}
	reason := env.Reason
	if reason == "" {
		reason = "ended"
	}
	if err := ep.endCall(ctx, session, reason); err != nil {
		ep.sendError(ErrNoActiveCall)
	}
}

// endCall removes the caller from the session (or, for a ringing callee that
// never joined, relays a decline) and broadcasts ended to whoever remains.
// Rung-but-unjoined callees are included when the session dies, so a
// cancelled invite stops their ringing instead of leaving it to time out.
func (ep *endpoint) endCall(ctx context.Context, session domain.SessionID, reason string) error {
	var rung []domain.UserID
	if snap, ok := ep.ctl.Hub.Sessions.Get(session); ok {
		rung = snap.Rung
	}

	remaining, deleted, err := ep.ctl.Hub.RemoveFromCall(ctx, session, ep.user, reason)
	switch {
	case err == nil:
		if deleted {
			remaining = append(remaining, rung...)
		}
	case errors.Is(err, hub.ErrNotInCall):
		// Busy/declined: the callee was rung but never became a participant.
		snap, ok := ep.ctl.Hub.Sessions.Get(session)
		if !ok {
			return hub.ErrNoSession
		}
		ep.ctl.Hub.Sessions.UnmarkRung(session, ep.user)
		remaining = snap.Participants
	default:
		return err
	}
	delete(ep.joinedCalls, session)

	ep.ctl.broadcastToUsers(remaining, Envelope{
		Type:      EventEnded,
		SessionID: string(session),
		EndedBy:   string(ep.user),
		Reason:    reason,
	})
	if deleted {
		log.Info().Str("module", "signal").Str("session", string(session)).Str("reason", reason).Msg("call fully ended")
	}
	return nil
}
