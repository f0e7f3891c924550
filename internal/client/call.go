// Package client implements the call-side of the signaling protocol: the
// per-client finite state machine driving media acquisition and ringing, and
// the per-peer transport manager. It runs in-process for bots and agents and
// mirrors what the browser client does.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/config"
	"github.com/majid78715/Jira-V1-sub001/internal/domain"
	"github.com/majid78715/Jira-V1-sub001/internal/signal"
)

type State int

const (
	StateIdle State = iota
	StateOutgoing
	StateRinging
	StateInCall
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateOutgoing:
		return "OUTGOING"
	case StateRinging:
		return "RINGING"
	case StateInCall:
		return "IN_CALL"
	case StateEnded:
		return "ENDED"
	}
	return "UNKNOWN"
}

const (
	ReasonMissed      = "Missed call."
	ReasonDeclined    = "Call declined."
	ReasonMediaFailed = "Unable to access your microphone/camera."
)

var (
	ErrBusy        = errors.New("already in a call")
	ErrNotRinging  = errors.New("no incoming call to accept")
	ErrCallAborted = errors.New("call aborted")
)

// negotiator is what the state machine needs from the peer layer; tests plug
// in fakes, production uses *PeerManager.
type negotiator interface {
	SendOffer(id domain.UserID) error
	HandleOffer(from domain.UserID, sdp string) error
	HandleAnswer(from domain.UserID, sdp string) error
	AddRemoteCandidate(from domain.UserID, ci webrtc.ICECandidateInit)
	PublishTracks(local *LocalMedia)
	ClosePeer(id domain.UserID)
	CloseAll()
}

type Options struct {
	RingTimeout time.Duration
	EndedLinger time.Duration
	ICEServers  []webrtc.ICEServer
	RingSink    ToneSink
}

// OptionsFromConfig builds controller options from the shared server config,
// so an in-process client rings and routes ICE exactly like the browser one.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	servers, err := cfg.ICEServers()
	if err != nil {
		return Options{}, err
	}
	return Options{
		RingTimeout: cfg.RingTimeout,
		ICEServers:  servers,
	}, nil
}

// CallController is the per-client call state machine. Re-entrancy into
// call-starting operations is guarded by the state check, not a lock: the
// transition to OUTGOING happens before the first suspension point, and every
// method re-checks state after one.
type CallController struct {
	self     string
	sig      Signaler
	source   MediaSource
	newPeers func(session domain.SessionID, local *LocalMedia) negotiator

	ringTimeout time.Duration
	endedLinger time.Duration

	ring  *RingTone
	timer *CallTimer

	mu          sync.Mutex
	state       State
	session     domain.SessionID
	media       domain.MediaKind
	group       bool
	outgoing    bool
	remoteParty domain.UserID
	local       *LocalMedia
	peers       negotiator
	ringTimer   *time.Timer
	endedTimer  *time.Timer
	reason      string

	pendingOffers     map[domain.UserID]string
	pendingCandidates map[domain.UserID][]webrtc.ICECandidateInit
}

func NewCallController(self domain.UserID, sig Signaler, source MediaSource, opts Options) *CallController {
	if opts.RingTimeout == 0 {
		opts.RingTimeout = 30 * time.Second
	}
	if opts.EndedLinger == 0 {
		opts.EndedLinger = 2 * time.Second
	}
	c := &CallController{
		self:              string(self),
		sig:               sig,
		source:            source,
		ringTimeout:       opts.RingTimeout,
		endedLinger:       opts.EndedLinger,
		ring:              NewRingTone(opts.RingSink),
		timer:             NewCallTimer(),
		pendingOffers:     make(map[domain.UserID]string),
		pendingCandidates: make(map[domain.UserID][]webrtc.ICECandidateInit),
	}
	c.newPeers = func(session domain.SessionID, local *LocalMedia) negotiator {
		return NewPeerManager(session, domain.UserID(c.self), sig, opts.ICEServers, local)
	}
	return c
}

func (c *CallController) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CallController) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (c *CallController) Session() domain.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Elapsed is the running call duration, wall-clock based.
func (c *CallController) Elapsed() time.Duration { return c.timer.Elapsed() }

// Run consumes server events until the context ends or the channel closes.
func (c *CallController) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Teardown("")
			return
		case env, ok := <-c.sig.Events():
			if !ok {
				c.Teardown("disconnected")
				return
			}
			c.handleEvent(env)
		}
	}
}

// StartCall places a call. Empty `to` means a group call ringing the whole
// room; otherwise it is a direct call to exactly that user.
func (c *CallController) StartCall(ctx context.Context, session domain.SessionID, to domain.UserID, media domain.MediaKind) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	// Optimistic transition before any round-trip: a second StartCall racing
	// this one hits the state check above.
	c.state = StateOutgoing
	c.session = session
	c.media = media
	c.group = to == ""
	c.outgoing = true
	c.remoteParty = to
	c.mu.Unlock()

	local, err := c.acquire(ctx, media)
	if err != nil {
		c.Teardown(ReasonMediaFailed)
		return err
	}

	c.mu.Lock()
	if c.state != StateOutgoing || c.session != session {
		c.mu.Unlock()
		local.Stop()
		return ErrCallAborted
	}
	c.local = local
	c.peers = c.newPeers(session, local)
	peers := c.peers
	group := c.group
	c.mu.Unlock()

	err = c.sig.Send(signal.Envelope{
		Type:      signal.EventInvite,
		SessionID: string(session),
		From:      c.self,
		To:        string(to),
		Media:     string(media),
	})
	if err != nil {
		c.Teardown("disconnected")
		return err
	}

	c.mu.Lock()
	if c.state == StateOutgoing {
		c.state = StateRinging
		c.armRingTimer(session, true)
		c.ring.Start()
	}
	c.mu.Unlock()

	if !group && domain.SendsFirstOffer(domain.RoleDirectCaller) {
		// The callee buffers this offer until it accepts.
		if err := peers.SendOffer(to); err != nil {
			log.Warn().Err(err).Str("module", "client.call").Str("peer", string(to)).Msg("initial offer failed")
		}
	}
	return nil
}

// Accept answers an incoming ring. Video acquisition failure falls back to
// audio before giving up entirely.
func (c *CallController) Accept(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRinging || c.outgoing {
		c.mu.Unlock()
		return ErrNotRinging
	}
	session, media := c.session, c.media
	c.mu.Unlock()

	local, err := c.acquire(ctx, media)
	if err != nil {
		_ = c.sig.Send(signal.Envelope{
			Type:      signal.EventEnd,
			SessionID: string(session),
			From:      c.self,
			Reason:    "declined",
		})
		c.Teardown(ReasonMediaFailed)
		return err
	}

	c.mu.Lock()
	if c.state != StateRinging || c.outgoing || c.session != session {
		c.mu.Unlock()
		local.Stop()
		return ErrCallAborted
	}
	c.stopRingingLocked()
	c.state = StateInCall
	c.local = local
	c.peers = c.newPeers(session, local)
	peers := c.peers
	offers := c.pendingOffers
	c.pendingOffers = make(map[domain.UserID]string)
	candidates := c.pendingCandidates
	c.pendingCandidates = make(map[domain.UserID][]webrtc.ICECandidateInit)
	c.mu.Unlock()

	c.timer.Start()

	err = c.sig.Send(signal.Envelope{
		Type:      signal.EventCallJoin,
		SessionID: string(session),
		From:      c.self,
		UserID:    c.self,
	})
	if err != nil {
		c.Teardown("disconnected")
		return err
	}

	// Direct flow: the caller's offer was buffered while we were ringing;
	// answering it completes the pair. Group flow: no offers were buffered
	// (existing participants never initiate) and the participants event
	// drives our outgoing offers instead.
	for from, sdp := range offers {
		if err := peers.HandleOffer(from, sdp); err != nil {
			log.Warn().Err(err).Str("module", "client.call").Str("peer", string(from)).Msg("buffered offer failed")
		}
	}
	for from, queue := range candidates {
		for _, ci := range queue {
			peers.AddRemoteCandidate(from, ci)
		}
	}
	return nil
}

// End hangs up the current call, whatever phase it is in.
func (c *CallController) End() {
	c.mu.Lock()
	st, session := c.state, c.session
	c.mu.Unlock()
	if st == StateIdle || st == StateEnded || session == "" {
		return
	}
	_ = c.sig.Send(signal.Envelope{
		Type:      signal.EventEnd,
		SessionID: string(session),
		From:      c.self,
		Reason:    "ended",
	})
	c.Teardown("")
}

// ToggleMute flips every local audio track and reports whether all of them
// are now disabled.
func (c *CallController) ToggleMute() bool {
	c.mu.Lock()
	local := c.local
	c.mu.Unlock()
	if local == nil {
		return false
	}
	allDisabled := true
	for _, t := range local.AudioTracks() {
		t.SetEnabled(!t.Enabled())
		if t.Enabled() {
			allDisabled = false
		}
	}
	return allDisabled
}

// EnableVideo requests a video-only capture the first time and publishes it
// to every open peer; afterwards it only toggles the existing track.
func (c *CallController) EnableVideo(ctx context.Context) (bool, error) {
	c.mu.Lock()
	local := c.local
	if local != nil && len(local.VideoTracks()) > 0 {
		var on bool
		for _, t := range local.VideoTracks() {
			t.SetEnabled(!t.Enabled())
			on = t.Enabled()
		}
		c.mu.Unlock()
		return on, nil
	}
	session := c.session
	c.mu.Unlock()

	video, err := c.source.Acquire(ctx, domain.MediaVideo)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	if c.state != StateInCall || c.session != session || c.local == nil {
		c.mu.Unlock()
		video.Stop()
		return false, ErrCallAborted
	}
	c.local.Tracks = append(c.local.Tracks, video.Tracks...)
	peers := c.peers
	merged := c.local
	c.mu.Unlock()

	if peers != nil {
		peers.PublishTracks(merged)
	}
	return true, nil
}

func (c *CallController) handleEvent(env signal.Envelope) {
	switch env.Type {
	case signal.EventRinging:
		c.handleRinging(env)
	case signal.EventOffer:
		c.handleOffer(env)
	case signal.EventAnswer:
		c.handleAnswer(env)
	case signal.EventCandidate:
		c.handleCandidate(env)
	case signal.EventJoined:
		c.handleJoined(env)
	case signal.EventParticipants:
		c.handleParticipants(env)
	case signal.EventEnded:
		c.handleEnded(env)
	case signal.EventError:
		log.Warn().Str("module", "client.call").Str("message", env.Message).Msg("server error")
	case signal.EventPresenceUpdate, signal.EventPong,
		signal.EventAudio, signal.EventTranscript:
		// Presence and relay traffic are consumed elsewhere.
	default:
	}
}

func (c *CallController) handleRinging(env signal.Envelope) {
	c.mu.Lock()
	busy := c.state == StateOutgoing || c.state == StateRinging || c.state == StateInCall
	c.mu.Unlock()
	if busy {
		// Signal busy and otherwise ignore the ring.
		_ = c.sig.Send(signal.Envelope{
			Type:      signal.EventEnd,
			SessionID: env.SessionID,
			From:      c.self,
			Reason:    "busy",
		})
		return
	}
	media, err := domain.ParseMediaKind(env.Media)
	if err != nil {
		media = domain.MediaAudio
	}
	c.mu.Lock()
	// The lingering ENDED banner does not make the client busy; a fresh
	// ring cuts it short.
	if c.endedTimer != nil {
		c.endedTimer.Stop()
	}
	c.reason = ""
	c.state = StateRinging
	c.outgoing = false
	c.session = domain.SessionID(env.SessionID)
	c.media = media
	c.remoteParty = domain.UserID(env.From)
	c.armRingTimer(c.session, false)
	c.ring.Start()
	c.mu.Unlock()
}

func (c *CallController) handleOffer(env signal.Envelope) {
	from := domain.UserID(env.From)
	c.mu.Lock()
	if domain.SessionID(env.SessionID) != c.session {
		c.mu.Unlock()
		return
	}
	if c.state != StateInCall || c.peers == nil {
		// Not active yet: hold the offer for Accept.
		c.pendingOffers[from] = env.SDP
		c.mu.Unlock()
		return
	}
	peers := c.peers
	c.mu.Unlock()
	if err := peers.HandleOffer(from, env.SDP); err != nil {
		log.Warn().Err(err).Str("module", "client.call").Str("peer", string(from)).Msg("offer failed")
	}
}

func (c *CallController) handleAnswer(env signal.Envelope) {
	from := domain.UserID(env.From)
	c.mu.Lock()
	peers := c.peers
	ok := domain.SessionID(env.SessionID) == c.session && peers != nil
	c.mu.Unlock()
	if !ok {
		return
	}
	if err := peers.HandleAnswer(from, env.SDP); err != nil {
		log.Warn().Err(err).Str("module", "client.call").Str("peer", string(from)).Msg("answer failed")
	}
}

func (c *CallController) handleCandidate(env signal.Envelope) {
	if env.Candidate == nil {
		return
	}
	from := domain.UserID(env.From)
	ci := env.Candidate.ToPion()
	c.mu.Lock()
	if domain.SessionID(env.SessionID) != c.session {
		c.mu.Unlock()
		return
	}
	peers := c.peers
	if peers == nil {
		// Candidates may race ahead of accept; the peer manager will queue
		// them again until the remote description lands.
		c.pendingCandidates[from] = append(c.pendingCandidates[from], ci)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	peers.AddRemoteCandidate(from, ci)
}

// handleJoined fires when someone accepted: the outbound ring is over. Per
// the glare policy an existing participant never initiates toward the
// newcomer, so there is nothing to offer here.
func (c *CallController) handleJoined(env signal.Envelope) {
	c.mu.Lock()
	if domain.SessionID(env.SessionID) != c.session {
		c.mu.Unlock()
		return
	}
	if c.state == StateRinging && c.outgoing {
		c.stopRingingLocked()
		c.state = StateInCall
		c.mu.Unlock()
		c.timer.Start()
		return
	}
	c.mu.Unlock()
}

// handleParticipants arrives only on the joiner's side. The joiner sends the
// first offer toward every existing participant it has not already been
// offered by.
func (c *CallController) handleParticipants(env signal.Envelope) {
	c.mu.Lock()
	peers := c.peers
	active := c.state == StateInCall && peers != nil &&
		domain.SessionID(env.SessionID) == c.session
	buffered := make(map[domain.UserID]bool, len(c.pendingOffers))
	for from := range c.pendingOffers {
		buffered[from] = true
	}
	c.mu.Unlock()
	if !active || !domain.SendsFirstOffer(domain.RoleNewcomer) {
		return
	}
	for _, p := range env.Participants {
		id := domain.UserID(p)
		if buffered[id] {
			continue
		}
		if err := peers.SendOffer(id); err != nil {
			log.Warn().Err(err).Str("module", "client.call").Str("peer", p).Msg("join offer failed")
		}
	}
}

func (c *CallController) handleEnded(env signal.Envelope) {
	c.mu.Lock()
	if domain.SessionID(env.SessionID) != c.session {
		c.mu.Unlock()
		return
	}
	st, group := c.state, c.group
	peers := c.peers
	endedBy := domain.UserID(env.EndedBy)
	c.mu.Unlock()

	if st == StateInCall && group && endedBy != "" {
		// One participant left a multi-party call; drop only their link.
		if peers != nil {
			peers.ClosePeer(endedBy)
		}
		return
	}
	c.Teardown(userReason(env.Reason))
}

func userReason(wire string) string {
	switch wire {
	case "busy", "declined":
		return ReasonDeclined
	case "missed":
		return ReasonMissed
	default:
		return wire
	}
}

func (c *CallController) acquire(ctx context.Context, kind domain.MediaKind) (*LocalMedia, error) {
	local, err := c.source.Acquire(ctx, kind)
	if err == nil {
		return local, nil
	}
	if kind == domain.MediaVideo {
		log.Warn().Err(err).Str("module", "client.call").Msg("video capture failed, retrying audio only")
		return c.source.Acquire(ctx, domain.MediaAudio)
	}
	return nil, err
}

// armRingTimer must run under c.mu.
func (c *CallController) armRingTimer(session domain.SessionID, outbound bool) {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
	}
	c.ringTimer = time.AfterFunc(c.ringTimeout, func() {
		c.onRingTimeout(session, outbound)
	})
}

func (c *CallController) onRingTimeout(session domain.SessionID, outbound bool) {
	c.mu.Lock()
	stillRinging := c.state == StateRinging && c.session == session && c.outgoing == outbound
	c.mu.Unlock()
	if !stillRinging {
		return
	}
	if outbound {
		_ = c.sig.Send(signal.Envelope{
			Type:      signal.EventEnd,
			SessionID: string(session),
			From:      c.self,
			Reason:    "missed",
		})
	}
	c.Teardown(ReasonMissed)
}

// stopRingingLocked must run under c.mu.
func (c *CallController) stopRingingLocked() {
	if c.ringTimer != nil {
		c.ringTimer.Stop()
		c.ringTimer = nil
	}
	c.ring.Stop()
}

// Teardown is the single cleanup path for every terminal transition: it
// clears timers, closes every peer transport, stops local media and empties
// the pending queues. Safe to call repeatedly.
func (c *CallController) Teardown(reason string) {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.stopRingingLocked()
	peers := c.peers
	c.peers = nil
	local := c.local
	c.local = nil
	c.pendingOffers = make(map[domain.UserID]string)
	c.pendingCandidates = make(map[domain.UserID][]webrtc.ICECandidateInit)
	c.session = ""
	c.remoteParty = ""
	c.group = false
	c.outgoing = false
	c.state = StateEnded
	c.reason = reason
	if c.endedTimer != nil {
		c.endedTimer.Stop()
	}
	c.endedTimer = time.AfterFunc(c.endedLinger, c.revertEnded)
	c.mu.Unlock()

	c.timer.Reset()
	if peers != nil {
		peers.CloseAll()
	}
	local.Stop()
	log.Info().Str("module", "client.call").Str("reason", reason).Msg("call torn down")
}

func (c *CallController) revertEnded() {
	c.mu.Lock()
	if c.state == StateEnded {
		c.state = StateIdle
		c.reason = ""
	}
	c.mu.Unlock()
}
