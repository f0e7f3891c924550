package client

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/majid78715/Jira-V1-sub001/internal/domain"
	"github.com/majid78715/Jira-V1-sub001/internal/signal"
)

var ErrNoPeer = errors.New("no such peer")

// peerLink is the per-remote-participant transport state. Candidates received
// before the remote description are parked in the manager's pending queue,
// never applied early and never dropped.
type peerLink struct {
	pc        *webrtc.PeerConnection
	initiator bool
	remoteSet bool
	remote    []*webrtc.TrackRemote
}

// PeerManager owns one transport per remote participant id and bridges them
// to the signaling channel.
type PeerManager struct {
	session domain.SessionID
	self    domain.UserID
	sig     Signaler
	cfg     webrtc.Configuration

	mu          sync.Mutex
	peers       map[domain.UserID]*peerLink
	pending     map[domain.UserID][]webrtc.ICECandidateInit
	localTracks []webrtc.TrackLocal

	onRemoteTrack func(peer domain.UserID, track *webrtc.TrackRemote)
}

func NewPeerManager(session domain.SessionID, self domain.UserID, sig Signaler, iceServers []webrtc.ICEServer, local *LocalMedia) *PeerManager {
	m := &PeerManager{
		session: session,
		self:    self,
		sig:     sig,
		cfg:     webrtc.Configuration{ICEServers: iceServers},
		peers:   make(map[domain.UserID]*peerLink),
		pending: make(map[domain.UserID][]webrtc.ICECandidateInit),
	}
	m.localTracks = rtcTracks(local)
	return m
}

func rtcTracks(local *LocalMedia) []webrtc.TrackLocal {
	if local == nil {
		return nil
	}
	var out []webrtc.TrackLocal
	for _, t := range local.Tracks {
		if rtc := t.RTC(); rtc != nil {
			out = append(out, rtc)
		}
	}
	return out
}

// OnRemoteTrack registers the remote-stream consumer. Remote tracks are owned
// here and exposed read-only.
func (m *PeerManager) OnRemoteTrack(fn func(peer domain.UserID, track *webrtc.TrackRemote)) {
	m.mu.Lock()
	m.onRemoteTrack = fn
	m.mu.Unlock()
}

// initPeer builds a fresh transport for the id, closing any prior one first
// so re-initialization is idempotent. Pending candidates survive the rebuild.
func (m *PeerManager) initPeer(id domain.UserID, initiator bool) (*peerLink, error) {
	m.mu.Lock()
	if old, ok := m.peers[id]; ok {
		delete(m.peers, id)
		m.mu.Unlock()
		_ = old.pc.Close()
		m.mu.Lock()
	}
	tracks := m.localTracks
	m.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(m.cfg)
	if err != nil {
		return nil, err
	}
	for _, t := range tracks {
		if _, err := pc.AddTrack(t); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	p := &peerLink{pc: pc, initiator: initiator}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		ci := signal.CandidateFromPion(init)
		err := m.sig.Send(signal.Envelope{
			Type:      signal.EventCandidate,
			SessionID: string(m.session),
			From:      string(m.self),
			To:        string(id),
			Candidate: &ci,
		})
		if err != nil {
			log.Debug().Err(err).Str("module", "client.peers").Str("peer", string(id)).Msg("candidate send")
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.mu.Lock()
		p.remote = append(p.remote, track)
		fn := m.onRemoteTrack
		m.mu.Unlock()
		log.Info().Str("module", "client.peers").Str("peer", string(id)).Str("kind", track.Kind().String()).Msg("remote track")
		if fn != nil {
			fn(id, track)
		}
	})

	pc.OnNegotiationNeeded(func() {
		m.mu.Lock()
		renegotiate := p.initiator && p.remoteSet
		m.mu.Unlock()
		if !renegotiate {
			return
		}
		if err := m.offer(id, p); err != nil {
			log.Warn().Err(err).Str("module", "client.peers").Str("peer", string(id)).Msg("renegotiation failed")
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "client.peers").Str("peer", string(id)).Str("state", s.String()).Msg("peer state")
	})

	m.mu.Lock()
	m.peers[id] = p
	m.mu.Unlock()
	return p, nil
}

// SendOffer initializes a transport toward id and sends the first offer.
// Only the side the glare policy picks may call this for a fresh pair.
func (m *PeerManager) SendOffer(id domain.UserID) error {
	p, err := m.initPeer(id, true)
	if err != nil {
		return err
	}
	return m.offer(id, p)
}

func (m *PeerManager) offer(id domain.UserID, p *peerLink) error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return err
	}
	return m.sig.Send(signal.Envelope{
		Type:      signal.EventOffer,
		SessionID: string(m.session),
		From:      string(m.self),
		To:        string(id),
		SDP:       offer.SDP,
	})
}

// HandleOffer applies a remote offer and answers it. A first offer from a new
// peer builds the transport; an offer on an existing peer is a renegotiation
// and reuses it.
func (m *PeerManager) HandleOffer(from domain.UserID, sdp string) error {
	m.mu.Lock()
	p, ok := m.peers[from]
	m.mu.Unlock()
	if !ok {
		var err error
		p, err = m.initPeer(from, false)
		if err != nil {
			return err
		}
	}

	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		return err
	}
	m.mu.Lock()
	p.remoteSet = true
	m.mu.Unlock()
	m.flushPending(from, p)

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return err
	}
	return m.sig.Send(signal.Envelope{
		Type:      signal.EventAnswer,
		SessionID: string(m.session),
		From:      string(m.self),
		To:        string(from),
		SDP:       answer.SDP,
	})
}

// HandleAnswer completes an exchange this side initiated.
func (m *PeerManager) HandleAnswer(from domain.UserID, sdp string) error {
	m.mu.Lock()
	p, ok := m.peers[from]
	m.mu.Unlock()
	if !ok {
		return ErrNoPeer
	}
	err := p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		return err
	}
	m.mu.Lock()
	p.remoteSet = true
	m.mu.Unlock()
	m.flushPending(from, p)
	return nil
}

// AddRemoteCandidate applies a candidate once the peer's remote description
// exists, otherwise queues it in receipt order. A single failed add is logged
// and swallowed; it never aborts the call.
func (m *PeerManager) AddRemoteCandidate(from domain.UserID, ci webrtc.ICECandidateInit) {
	m.mu.Lock()
	p, ok := m.peers[from]
	ready := ok && p.remoteSet
	if !ready {
		m.pending[from] = append(m.pending[from], ci)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := p.pc.AddICECandidate(ci); err != nil {
		log.Warn().Err(err).Str("module", "client.peers").Str("peer", string(from)).Msg("add candidate")
	}
}

// flushPending drains the queue in receipt order right after the remote
// description is set. Entries that still fail stay queued for the next flush.
func (m *PeerManager) flushPending(from domain.UserID, p *peerLink) {
	m.mu.Lock()
	queued := m.pending[from]
	delete(m.pending, from)
	m.mu.Unlock()

	var failed []webrtc.ICECandidateInit
	for _, ci := range queued {
		if err := p.pc.AddICECandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "client.peers").Str("peer", string(from)).Msg("flush candidate")
			failed = append(failed, ci)
		}
	}
	if len(failed) > 0 {
		m.mu.Lock()
		m.pending[from] = append(failed, m.pending[from]...)
		m.mu.Unlock()
	}
}

// PublishTracks pushes newly acquired local tracks to every open transport,
// for example when video is enabled mid-call. Renegotiation fires per peer
// via the negotiation-needed path.
func (m *PeerManager) PublishTracks(local *LocalMedia) {
	tracks := rtcTracks(local)
	m.mu.Lock()
	m.localTracks = tracks
	links := make(map[domain.UserID]*peerLink, len(m.peers))
	for id, p := range m.peers {
		links[id] = p
	}
	m.mu.Unlock()

	for id, p := range links {
		for _, t := range tracks {
			if hasSender(p.pc, t) {
				continue
			}
			if _, err := p.pc.AddTrack(t); err != nil {
				log.Warn().Err(err).Str("module", "client.peers").Str("peer", string(id)).Msg("publish track")
			}
		}
	}
}

func hasSender(pc *webrtc.PeerConnection, t webrtc.TrackLocal) bool {
	for _, s := range pc.GetSenders() {
		if s.Track() == t {
			return true
		}
	}
	return false
}

// RemoteTracks returns the assembled remote stream for one peer.
func (m *PeerManager) RemoteTracks(id domain.UserID) []*webrtc.TrackRemote {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	if !ok {
		return nil
	}
	out := make([]*webrtc.TrackRemote, len(p.remote))
	copy(out, p.remote)
	return out
}

func (m *PeerManager) ClosePeer(id domain.UserID) {
	m.mu.Lock()
	p, ok := m.peers[id]
	delete(m.peers, id)
	delete(m.pending, id)
	m.mu.Unlock()
	if ok {
		_ = p.pc.Close()
	}
}

// PendingCandidates reports the queue depth for one peer, for tests and
// introspection.
func (m *PeerManager) PendingCandidates(id domain.UserID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[id])
}

func (m *PeerManager) CloseAll() {
	m.mu.Lock()
	links := m.peers
	m.peers = make(map[domain.UserID]*peerLink)
	m.pending = make(map[domain.UserID][]webrtc.ICECandidateInit)
	m.mu.Unlock()
	for _, p := range links {
		_ = p.pc.Close()
	}
}
