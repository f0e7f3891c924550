package signal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/majid78715/Jira-V1-sub001/internal/collab"
	"github.com/majid78715/Jira-V1-sub001/internal/config"
	"github.com/majid78715/Jira-V1-sub001/internal/domain"
	"github.com/majid78715/Jira-V1-sub001/internal/hub"
)

type testConn struct {
	mu     sync.Mutex
	frames []hub.Frame
	closed bool
}

func (c *testConn) TrySend(f hub.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *testConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *testConn) envelopes(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env Envelope
		if err := json.Unmarshal(f, &env); err != nil {
			t.Fatalf("bad outbound frame %s: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

func (c *testConn) lastOfType(t *testing.T, typ EventType) (Envelope, bool) {
	t.Helper()
	var found Envelope
	ok := false
	for _, env := range c.envelopes(t) {
		if env.Type == typ {
			found = env
			ok = true
		}
	}
	return found, ok
}

func (c *testConn) drain() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type fixture struct {
	ctl        *Controller
	membership *collab.MemoryMembership
}

func newFixture() *fixture {
	membership := collab.NewMemoryMembership()
	h := hub.New(membership, collab.LogActivity{}, collab.LogNotifier{}, collab.NewMemoryAttachments())
	cfg := &config.Config{
		InviteRateLimit:  100,
		InviteRateWindow: time.Minute,
	}
	return &fixture{ctl: NewController(h, cfg), membership: membership}
}

func (f *fixture) connect(user domain.UserID) (*endpoint, *testConn) {
	tc := &testConn{}
	ep := &endpoint{
		ctl:         f.ctl,
		user:        user,
		out:         tc,
		joinedRooms: make(map[domain.SessionID]struct{}),
		joinedCalls: make(map[domain.SessionID]struct{}),
	}
	ep.connID = f.ctl.Hub.Directory.Register(user, tc)
	return ep, tc
}

func send(t *testing.T, ep *endpoint, env Envelope) {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ep.handle(context.Background(), b)
}

func TestDirectCallFlow(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-1", "alice", "bob")
	epA, connA := f.connect("alice")
	epB, connB := f.connect("bob")

	send(t, epA, Envelope{Type: EventInvite, SessionID: "room-1", From: "alice", To: "bob", Media: "audio"})

	ring, ok := connB.lastOfType(t, EventRinging)
	if !ok {
		t.Fatal("bob was not rung")
	}
	if ring.From != "alice" || ring.Media != "audio" {
		t.Fatalf("ringing = %+v", ring)
	}
	snap, ok := f.ctl.Hub.Sessions.Get("room-1")
	if !ok || len(snap.Participants) != 1 || snap.Participants[0] != "alice" {
		t.Fatalf("session after invite = %+v, %v", snap, ok)
	}

	// Caller initiates toward the callee; it buffers until accept.
	send(t, epA, Envelope{Type: EventOffer, SessionID: "room-1", From: "alice", To: "bob", SDP: "v=0 offer"})
	offer, ok := connB.lastOfType(t, EventOffer)
	if !ok || offer.SDP != "v=0 offer" {
		t.Fatalf("offer not forwarded verbatim: %+v", offer)
	}

	send(t, epB, Envelope{Type: EventCallJoin, SessionID: "room-1", From: "bob"})
	parts, ok := connB.lastOfType(t, EventParticipants)
	if !ok || len(parts.Participants) != 1 || parts.Participants[0] != "alice" {
		t.Fatalf("participants to joiner = %+v", parts)
	}
	joined, ok := connA.lastOfType(t, EventJoined)
	if !ok || joined.UserID != "bob" {
		t.Fatalf("joined to caller = %+v", joined)
	}
	if _, ok := connB.lastOfType(t, EventJoined); ok {
		t.Fatal("the joiner must not receive its own joined event")
	}

	send(t, epB, Envelope{Type: EventAnswer, SessionID: "room-1", From: "bob", To: "alice", SDP: "v=0 answer"})
	answer, ok := connA.lastOfType(t, EventAnswer)
	if !ok || answer.SDP != "v=0 answer" {
		t.Fatalf("answer not forwarded: %+v", answer)
	}

	send(t, epB, Envelope{Type: EventCandidate, SessionID: "room-1", From: "bob", To: "alice",
		Candidate: &CandidateInit{Candidate: "candidate:1 1 udp 1 192.0.2.1 1 typ host"}})
	if _, ok := connA.lastOfType(t, EventCandidate); !ok {
		t.Fatal("candidate not forwarded")
	}

	send(t, epB, Envelope{Type: EventEnd, SessionID: "room-1", From: "bob"})
	ended, ok := connA.lastOfType(t, EventEnded)
	if !ok || ended.EndedBy != "bob" || ended.Reason != "ended" {
		t.Fatalf("ended to alice = %+v", ended)
	}
	snap, ok = f.ctl.Hub.Sessions.Get("room-1")
	if !ok || len(snap.Participants) != 1 || snap.Participants[0] != "alice" {
		t.Fatalf("session after bob left = %+v, %v", snap, ok)
	}

	send(t, epA, Envelope{Type: EventEnd, SessionID: "room-1", From: "alice"})
	if _, ok := f.ctl.Hub.Sessions.Get("room-1"); ok {
		t.Fatal("session must be deleted after the last participant hangs up")
	}
}

func TestBusyCalleeDeclines(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-1", "alice", "bob")
	epA, connA := f.connect("alice")
	epB, _ := f.connect("bob")

	send(t, epA, Envelope{Type: EventInvite, SessionID: "room-1", From: "alice", To: "bob", Media: "audio"})

	// Bob never joined the call; his end is a decline relay, not a
	// registry mutation.
	send(t, epB, Envelope{Type: EventEnd, SessionID: "room-1", From: "bob", Reason: "busy"})
	ended, ok := connA.lastOfType(t, EventEnded)
	if !ok || ended.Reason != "busy" || ended.EndedBy != "bob" {
		t.Fatalf("ended to alice = %+v", ended)
	}
	if !f.ctl.Hub.Sessions.IsParticipant("room-1", "alice") {
		t.Fatal("the decline must leave the caller's session intact")
	}
}

func TestInviteTargetOffline(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-1", "alice", "carol")
	epA, connA := f.connect("alice")

	send(t, epA, Envelope{Type: EventInvite, SessionID: "room-1", From: "alice", To: "carol", Media: "audio"})
	errEnv, ok := connA.lastOfType(t, EventError)
	if !ok || errEnv.Message != ErrUnreachable.Error() {
		t.Fatalf("error = %+v", errEnv)
	}
	if _, ok := f.ctl.Hub.Sessions.Get("room-1"); ok {
		t.Fatal("failed invite must roll the session back")
	}
}

func TestNonMemberRejected(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-1", "alice")
	epM, connM := f.connect("mallory")

	send(t, epM, Envelope{Type: EventInvite, SessionID: "room-1", From: "mallory", Media: "audio"})
	errEnv, ok := connM.lastOfType(t, EventError)
	if !ok || errEnv.Message != ErrNotMember.Error() {
		t.Fatalf("error = %+v", errEnv)
	}
}

func TestSpoofedSenderRejected(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-1", "alice", "bob")
	epB, connB := f.connect("bob")

	send(t, epB, Envelope{Type: EventInvite, SessionID: "room-1", From: "alice", Media: "audio"})
	errEnv, ok := connB.lastOfType(t, EventError)
	if !ok || errEnv.Message != ErrSpoofedSender.Error() {
		t.Fatalf("error = %+v", errEnv)
	}
	if _, ok := f.ctl.Hub.Sessions.Get("room-1"); ok {
		t.Fatal("spoofed invite must not create a session")
	}
}

func TestGroupCallFanout(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-g", "alice", "bob", "carol")
	epA, connA := f.connect("alice")
	epB, connB := f.connect("bob")
	epC, connC := f.connect("carol")

	send(t, epA, Envelope{Type: EventInvite, SessionID: "room-g", From: "alice", Media: "video"})
	if _, ok := connB.lastOfType(t, EventRinging); !ok {
		t.Fatal("bob was not rung")
	}
	if _, ok := connC.lastOfType(t, EventRinging); !ok {
		t.Fatal("carol was not rung")
	}
	if _, ok := connA.lastOfType(t, EventRinging); ok {
		t.Fatal("the initiator must not ring itself")
	}

	send(t, epB, Envelope{Type: EventCallJoin, SessionID: "room-g", From: "bob"})
	parts, _ := connB.lastOfType(t, EventParticipants)
	if len(parts.Participants) != 1 || parts.Participants[0] != "alice" {
		t.Fatalf("bob's participant list = %v", parts.Participants)
	}

	connA.drain()
	connB.drain()
	send(t, epC, Envelope{Type: EventCallJoin, SessionID: "room-g", From: "carol"})
	parts, _ = connC.lastOfType(t, EventParticipants)
	if len(parts.Participants) != 2 {
		t.Fatalf("carol's participant list = %v, want alice and bob", parts.Participants)
	}
	for _, conn := range []*testConn{connA, connB} {
		joined, ok := conn.lastOfType(t, EventJoined)
		if !ok || joined.UserID != "carol" {
			t.Fatalf("joined fanout = %+v, %v", joined, ok)
		}
	}
}

func TestDisconnectEndsCallsAndLeavesRooms(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-1", "alice", "bob")
	epA, connA := f.connect("alice")
	epB, _ := f.connect("bob")

	send(t, epA, Envelope{Type: EventJoin, SessionID: "room-1", From: "alice"})
	send(t, epB, Envelope{Type: EventJoin, SessionID: "room-1", From: "bob"})
	send(t, epA, Envelope{Type: EventInvite, SessionID: "room-1", From: "alice", To: "bob", Media: "audio"})
	send(t, epB, Envelope{Type: EventCallJoin, SessionID: "room-1", From: "bob"})
	connA.drain()

	epB.onDisconnect(context.Background())

	ended, ok := connA.lastOfType(t, EventEnded)
	if !ok || ended.Reason != "disconnected" || ended.EndedBy != "bob" {
		t.Fatalf("ended = %+v", ended)
	}
	if !f.ctl.Hub.Sessions.IsParticipant("room-1", "alice") {
		t.Fatal("alice must still be in the call")
	}
	if f.ctl.Hub.Directory.Online("bob") {
		t.Fatal("bob's connection must be unregistered")
	}
	presence, ok := connA.lastOfType(t, EventPresenceUpdate)
	if !ok || len(presence.OnlineUserIDs) != 1 || presence.OnlineUserIDs[0] != "alice" {
		t.Fatalf("presence after disconnect = %+v", presence)
	}
}

func TestPresenceJoinLeave(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-1", "alice", "bob")
	epA, connA := f.connect("alice")
	epB, _ := f.connect("bob")

	send(t, epA, Envelope{Type: EventJoin, SessionID: "room-1", From: "alice"})
	send(t, epB, Envelope{Type: EventJoin, SessionID: "room-1", From: "bob"})

	update, ok := connA.lastOfType(t, EventPresenceUpdate)
	if !ok || len(update.OnlineUserIDs) != 2 {
		t.Fatalf("presence after both joined = %+v", update)
	}

	// A duplicate join on the same connection must not double-count.
	send(t, epB, Envelope{Type: EventJoin, SessionID: "room-1", From: "bob"})
	send(t, epB, Envelope{Type: EventLeave, SessionID: "room-1", From: "bob"})

	update, ok = connA.lastOfType(t, EventPresenceUpdate)
	if !ok || len(update.OnlineUserIDs) != 1 || update.OnlineUserIDs[0] != "alice" {
		t.Fatalf("presence after bob left = %+v", update)
	}
}

func TestAudioAndTranscriptRelay(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-1", "alice", "bob")
	epA, _ := f.connect("alice")
	epB, connB := f.connect("bob")

	send(t, epA, Envelope{Type: EventInvite, SessionID: "room-1", From: "alice", To: "bob", Media: "audio"})
	send(t, epB, Envelope{Type: EventCallJoin, SessionID: "room-1", From: "bob"})
	connB.drain()

	send(t, epA, Envelope{Type: EventAudio, SessionID: "room-1", From: "alice", To: "bob", Chunk: "AAAA"})
	audio, ok := connB.lastOfType(t, EventAudio)
	if !ok || audio.Chunk != "AAAA" {
		t.Fatalf("audio relay = %+v", audio)
	}

	send(t, epA, Envelope{Type: EventTranscript, SessionID: "room-1", From: "alice", To: "bob", Text: "partial", IsFinal: false})
	send(t, epA, Envelope{Type: EventTranscript, SessionID: "room-1", From: "alice", To: "bob", Text: "hello there", IsFinal: true})

	if _, ok := connB.lastOfType(t, EventTranscript); !ok {
		t.Fatal("transcript not relayed")
	}

	// Only the finalized segment lands on the session buffer; verify via the
	// teardown flush.
	f.ctl.Hub.Sessions.RemoveParticipant("room-1", "bob")
	_, transcript, deleted, err := f.ctl.Hub.Sessions.RemoveParticipant("room-1", "alice")
	if err != nil || !deleted {
		t.Fatalf("teardown = deleted=%v err=%v", deleted, err)
	}
	if len(transcript) != 1 || transcript[0].Text != "hello there" {
		t.Fatalf("buffered transcript = %+v, want only the finalized segment", transcript)
	}
}

func TestPingPong(t *testing.T) {
	f := newFixture()
	ep, conn := f.connect("alice")
	send(t, ep, Envelope{Type: EventPing})
	if _, ok := conn.lastOfType(t, EventPong); !ok {
		t.Fatal("ping must be answered with pong")
	}
}

func TestMalformedFrame(t *testing.T) {
	f := newFixture()
	ep, conn := f.connect("alice")
	ep.handle(context.Background(), []byte("{{{"))
	errEnv, ok := conn.lastOfType(t, EventError)
	if !ok || errEnv.Message != ErrBadPayload.Error() {
		t.Fatalf("error = %+v", errEnv)
	}
}

func TestEndWithoutCall(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-x", "alice")
	ep, conn := f.connect("alice")
	send(t, ep, Envelope{Type: EventEnd, SessionID: "room-x", From: "alice"})
	errEnv, ok := conn.lastOfType(t, EventError)
	if !ok || errEnv.Message != ErrNoActiveCall.Error() {
		t.Fatalf("error = %+v", errEnv)
	}
}

func TestEndFromNonMemberRejected(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-1", "alice", "bob")
	epA, connA := f.connect("alice")
	epB, _ := f.connect("bob")
	epM, connM := f.connect("mallory")

	send(t, epA, Envelope{Type: EventInvite, SessionID: "room-1", From: "alice", To: "bob", Media: "audio"})
	send(t, epB, Envelope{Type: EventCallJoin, SessionID: "room-1", From: "bob"})
	connA.drain()

	send(t, epM, Envelope{Type: EventEnd, SessionID: "room-1", From: "mallory", Reason: "busy"})

	errEnv, ok := connM.lastOfType(t, EventError)
	if !ok || errEnv.Message != ErrNotMember.Error() {
		t.Fatalf("error to mallory = %+v", errEnv)
	}
	if _, ok := connA.lastOfType(t, EventEnded); ok {
		t.Fatal("an outsider's end must not reach the participants")
	}
	if !f.ctl.Hub.Sessions.IsParticipant("room-1", "alice") || !f.ctl.Hub.Sessions.IsParticipant("room-1", "bob") {
		t.Fatal("the call must survive an outsider's end")
	}
}

func TestNegotiationToNonMemberRejected(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-1", "alice", "bob")
	epA, connA := f.connect("alice")
	f.connect("bob")
	_, connM := f.connect("mallory")

	send(t, epA, Envelope{Type: EventInvite, SessionID: "room-1", From: "alice", To: "bob", Media: "audio"})

	send(t, epA, Envelope{Type: EventOffer, SessionID: "room-1", From: "alice", To: "mallory", SDP: "v=0 offer"})

	errEnv, ok := connA.lastOfType(t, EventError)
	if !ok || errEnv.Message != ErrNotMember.Error() {
		t.Fatalf("error to alice = %+v", errEnv)
	}
	if len(connM.envelopes(t)) != 0 {
		t.Fatalf("session signaling leaked to an outsider: %+v", connM.envelopes(t))
	}
}

func TestCancelNotifiesRungCallees(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-g", "alice", "bob", "carol")
	epA, _ := f.connect("alice")
	_, connB := f.connect("bob")
	_, connC := f.connect("carol")

	send(t, epA, Envelope{Type: EventInvite, SessionID: "room-g", From: "alice", Media: "audio"})
	if _, ok := connB.lastOfType(t, EventRinging); !ok {
		t.Fatal("bob was not rung")
	}

	// Caller hangs up before anyone joins; both ringing callees must hear
	// the call end instead of ringing until their local timeout.
	send(t, epA, Envelope{Type: EventEnd, SessionID: "room-g", From: "alice"})

	for name, conn := range map[string]*testConn{"bob": connB, "carol": connC} {
		ended, ok := conn.lastOfType(t, EventEnded)
		if !ok || ended.EndedBy != "alice" {
			t.Fatalf("ended to %s = %+v, %v", name, ended, ok)
		}
	}
	if _, ok := f.ctl.Hub.Sessions.Get("room-g"); ok {
		t.Fatal("session must be deleted after the sole participant hangs up")
	}
}

func TestDeclineStopsRung(t *testing.T) {
	f := newFixture()
	f.membership.Add("room-1", "alice", "bob")
	epA, _ := f.connect("alice")
	epB, _ := f.connect("bob")

	send(t, epA, Envelope{Type: EventInvite, SessionID: "room-1", From: "alice", To: "bob", Media: "audio"})
	send(t, epB, Envelope{Type: EventEnd, SessionID: "room-1", From: "bob", Reason: "busy"})

	snap, ok := f.ctl.Hub.Sessions.Get("room-1")
	if !ok {
		t.Fatal("the caller's session must survive the decline")
	}
	if len(snap.Rung) != 0 {
		t.Fatalf("rung set after decline = %v, want empty", snap.Rung)
	}
}
