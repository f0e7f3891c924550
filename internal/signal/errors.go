package signal

import "errors"

// Wire-visible rejection reasons. Every one of these surfaces to the client
// as an error{message} event; none of them tears the connection down.
var (
	ErrNotMember     = errors.New("not a member")
	ErrSpoofedSender = errors.New("sender mismatch")
	ErrBadPayload    = errors.New("bad payload")
	ErrUnknownEvent  = errors.New("unknown event")
	ErrUnreachable   = errors.New("user unreachable")
	ErrNoActiveCall  = errors.New("no active call")
	ErrRateLimited   = errors.New("too many call attempts")
)
