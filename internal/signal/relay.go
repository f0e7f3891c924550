package signal

import (
	"time"

	"github.com/majid78715/Jira-V1-sub001/internal/domain"
)

// handleAudio is the fast path: spoofing was already rejected in dispatch and
// nothing here touches the registries, so per-chunk cost is one map read in
// the directory fan-out.
func (ep *endpoint) handleAudio(env Envelope, raw []byte) {
	ep.ctl.Hub.Directory.SendTo(domain.UserID(env.To), raw)
}

// handleTranscript relays like audio but also buffers finalized segments on
// the call session for persistence at teardown.
func (ep *endpoint) handleTranscript(env Envelope, raw []byte) {
	ep.ctl.Hub.Directory.SendTo(domain.UserID(env.To), raw)

	if !env.IsFinal {
		return
	}
	ts := time.Now()
	if env.Timestamp > 0 {
		ts = time.UnixMilli(env.Timestamp)
	}
	ep.ctl.Hub.Sessions.AppendTranscript(domain.SessionID(env.SessionID), domain.TranscriptSegment{
		UserID:    ep.user,
		Text:      env.Text,
		Timestamp: ts,
	})
}
