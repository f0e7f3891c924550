// Package collab declares the ports toward the rest of the workspace suite.
// The signaling subsystem never reaches into the flat-file store or the REST
// API directly; everything it needs from the host product comes through these
// interfaces.
package collab

import (
	"context"
	"time"

	"github.com/majid78715/Jira-V1-sub001/internal/domain"
)

// RoomMembership answers who belongs to a conversation room. Backed by the
// business-domain store in production, by memory fakes in tests.
type RoomMembership interface {
	IsMember(ctx context.Context, room domain.SessionID, user domain.UserID) (bool, error)
	Members(ctx context.Context, room domain.SessionID) ([]domain.UserID, error)
}

// ActivityEntry is one audit record emitted for call lifecycle events.
type ActivityEntry struct {
	Room   domain.SessionID
	UserID domain.UserID
	Action string
	At     time.Time
}

// ActivityLog is the audit sink. Implementations must not block the caller on
// slow storage; failures are the implementation's problem.
type ActivityLog interface {
	Record(ctx context.Context, e ActivityEntry)
}

// Notification is a user-facing event pushed outside the signaling channel
// (missed call badges, "call ended" toasts, transcript-ready messages).
type Notification struct {
	Room    domain.SessionID
	Kind    string
	Message string
}

type Notifier interface {
	Notify(ctx context.Context, to domain.UserID, n Notification)
}

// AttachmentStore persists a finished call's transcript as a room attachment.
// Returns the stored attachment id.
type AttachmentStore interface {
	SaveTranscript(ctx context.Context, room domain.SessionID, segments []domain.TranscriptSegment) (string, error)
}
