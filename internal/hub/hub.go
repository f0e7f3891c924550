// Package hub holds the per-process registries behind call signaling: the
// connection directory, the presence refcounts and the call session registry.
// One Hub is instantiated per server process and injected into the transport
// layer; nothing here is package-level mutable state.
package hub

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/collab"
	"github.com/majid78715/Jira-V1-sub001/internal/domain"
)

type Hub struct {
	Directory *Directory
	Presence  *PresenceTracker
	Sessions  *SessionRegistry

	Membership  collab.RoomMembership
	Activity    collab.ActivityLog
	Notifier    collab.Notifier
	Attachments collab.AttachmentStore
}

func New(membership collab.RoomMembership, activity collab.ActivityLog, notifier collab.Notifier, attachments collab.AttachmentStore) *Hub {
	dir := NewDirectory()
	return &Hub{
		Directory:   dir,
		Presence:    NewPresenceTracker(dir),
		Sessions:    NewSessionRegistry(),
		Membership:  membership,
		Activity:    activity,
		Notifier:    notifier,
		Attachments: attachments,
	}
}

// RemoveFromCall is the single departure path shared by the end handler and
// disconnect cleanup. When the departing user was the last participant the
// session is already gone from the registry by the time the transcript is
// flushed, so the slow attachment write leaves no window for a stale session
// to be observed.
func (h *Hub) RemoveFromCall(ctx context.Context, session domain.SessionID, user domain.UserID, reason string) (remaining []domain.UserID, deleted bool, err error) {
	remaining, transcript, deleted, err := h.Sessions.RemoveParticipant(session, user)
	if err != nil {
		return nil, false, err
	}

	h.Activity.Record(ctx, collab.ActivityEntry{
		Room:   session,
		UserID: user,
		Action: "call:" + reason,
		At:     time.Now(),
	})

	if deleted && len(transcript) > 0 {
		id, saveErr := h.Attachments.SaveTranscript(ctx, session, transcript)
		if saveErr != nil {
			log.Error().Str("module", "hub").Str("session", string(session)).Err(saveErr).Msg("transcript flush failed")
		} else {
			h.Notifier.Notify(ctx, user, collab.Notification{
				Room:    session,
				Kind:    "call-transcript",
				Message: "Call transcript saved as attachment " + id,
			})
		}
	}
	return remaining, deleted, nil
}

func (h *Hub) Stop() {
	h.Directory.CloseAll()
	log.Info().Str("module", "hub").Msg("hub stopped")
}
