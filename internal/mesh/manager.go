package mesh

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const DefaultGracePeriod = 5 * time.Second

// Signaler sends a message into the manager's room.
type Signaler interface {
	Send(protocol.Message) error
}

// MediaSession is the local side peers attach to.
type MediaSession interface {
	Tracks() []webrtc.TrackLocal
	AttachSink(name string, sink core.AudioSink, commit func() bool) bool
}

type EventType string

const (
	EventPeerJoined  EventType = "peer-joined"
	EventPeerLeft    EventType = "peer-left"
	EventPeerUpdated EventType = "peer-updated"
	EventPeerError   EventType = "peer-error"
)

type Event struct {
	Type EventType
	Peer domain.PeerInfo
	Err  error
}

type Options struct {
	GracePeriod time.Duration
	Clock       clock.Clock
	Metrics     *Metrics
	// OnEvent is called without any manager lock held and must not block.
	OnEvent func(Event)
}

// Manager is the connection lifecycle manager of one room scope. Signaling
// handlers must be called from a single goroutine; connection callbacks and
// timers may arrive from any goroutine.
type Manager struct {
	sig   Signaler
	media MediaSession
	conns core.PeerConnectionFactory
	sinks core.AudioSinkFactory
	opts  Options
	reg   *Registry

	selfMu sync.RWMutex
	self   domain.PeerID
}

func NewManager(sig Signaler, media MediaSession, conns core.PeerConnectionFactory, sinks core.AudioSinkFactory, opts Options) *Manager {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Manager{
		sig:   sig,
		media: media,
		conns: conns,
		sinks: sinks,
		opts:  opts,
		reg:   NewRegistry(),
	}
}

// Self is the id the relay assigned to the local participant.
func (m *Manager) Self() domain.PeerID {
	m.selfMu.RLock()
	defer m.selfMu.RUnlock()
	return m.self
}

func (m *Manager) emit(t EventType, p *Peer, err error) {
	if m.opts.OnEvent == nil {
		return
	}
	m.opts.OnEvent(Event{Type: t, Peer: p.Info(), Err: err})
}

func (m *Manager) send(msg protocol.Message) {
	if err := m.sig.Send(msg); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("type", msg.Type).Msg("signal send failed")
	}
}

// HandleRoster records the members already in the room. The newcomer never
// offers; it waits for each of them to offer.
func (m *Manager) HandleRoster(self domain.PeerID, roster []protocol.RosterEntry) {
	m.selfMu.Lock()
	m.self = self
	m.selfMu.Unlock()

	for _, e := range roster {
		if e.PeerID == self || e.PeerID == "" {
			continue
		}
		p, created := m.reg.GetOrCreate(e.PeerID, e.DisplayName, false)
		if p == nil {
			return
		}
		p.mu.Lock()
		p.remoteMuted = e.IsMuted
		if p.name == "" {
			p.name = e.DisplayName
		}
		p.mu.Unlock()
		if created {
			m.opts.Metrics.Peers.Inc()
			m.emit(EventPeerJoined, p, nil)
		}
	}
}

// HandlePeerJoined makes the existing member the initiator toward the newcomer.
func (m *Manager) HandlePeerJoined(id domain.PeerID, name string) {
	if id == "" || id == m.Self() {
		return
	}
	p, created := m.reg.GetOrCreate(id, name, true)
	if p == nil {
		return
	}
	if !created {
		log.Warn().Str("module", "mesh").Str("peer", string(id)).Msg("duplicate peer-joined ignored")
		return
	}
	m.opts.Metrics.Peers.Inc()
	m.emit(EventPeerJoined, p, nil)

	conn, err := m.ensureConn(p)
	if err != nil {
		m.negotiationFailed(p, "offer", err)
		return
	}
	offer, err := conn.CreateOffer(false)
	if err != nil {
		m.negotiationFailed(p, "offer", err)
		return
	}
	m.opts.Metrics.Negotiations.WithLabelValues("offer", "ok").Inc()
	m.send(protocol.Offer(id, offer.SDP))
}

func (m *Manager) HandlePeerLeft(id domain.PeerID) {
	if p, ok := m.reg.Get(id); ok {
		m.removePeer(p, "left", nil)
	}
}

func (m *Manager) HandleOffer(from domain.PeerID, sdp string) {
	if from == "" || from == m.Self() {
		return
	}
	p, created := m.reg.GetOrCreate(from, "", false)
	if p == nil {
		return
	}
	if created {
		m.opts.Metrics.Peers.Inc()
		m.emit(EventPeerJoined, p, nil)
	}
	conn, err := m.ensureConn(p)
	if err != nil {
		m.negotiationFailed(p, "answer", err)
		return
	}
	answer, err := conn.ApplyOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		m.negotiationFailed(p, "answer", err)
		return
	}
	m.opts.Metrics.Negotiations.WithLabelValues("answer", "ok").Inc()
	m.send(protocol.Answer(from, answer.SDP))
	m.flushCandidates(p, conn)
}

func (m *Manager) HandleAnswer(from domain.PeerID, sdp string) {
	p, ok := m.reg.Get(from)
	if !ok {
		log.Debug().Str("module", "mesh").Str("peer", string(from)).Msg("answer for unknown peer")
		return
	}
	conn := p.connection()
	if conn == nil {
		return
	}
	if err := conn.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		m.negotiationFailed(p, "apply_answer", err)
		return
	}
	m.opts.Metrics.Negotiations.WithLabelValues("apply_answer", "ok").Inc()
	m.flushCandidates(p, conn)
}

// HandleCandidate queues candidates that precede the remote description.
func (m *Manager) HandleCandidate(from domain.PeerID, c *webrtc.ICECandidateInit) {
	if c == nil {
		return
	}
	p, ok := m.reg.Get(from)
	if !ok {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	conn := p.conn
	if conn == nil || !p.remoteSet {
		p.pending = append(p.pending, *c)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	if err := conn.AddICECandidate(*c); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("peer", string(from)).Msg("add ice candidate")
	}
}

func (m *Manager) flushCandidates(p *Peer, conn core.PeerConnection) {
	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := conn.AddICECandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(p.id)).Msg("add queued ice candidate")
		}
	}
}

func (m *Manager) HandleMuteState(from domain.PeerID, muted bool) {
	p, ok := m.reg.Get(from)
	if !ok {
		return
	}
	p.mu.Lock()
	changed := p.remoteMuted != muted
	p.remoteMuted = muted
	p.mu.Unlock()
	if changed {
		m.emit(EventPeerUpdated, p, nil)
	}
}

func (m *Manager) HandleSpeakingState(from domain.PeerID, speaking bool) {
	p, ok := m.reg.Get(from)
	if !ok {
		return
	}
	p.mu.Lock()
	changed := p.speaking != speaking
	p.speaking = speaking
	p.mu.Unlock()
	if changed {
		m.emit(EventPeerUpdated, p, nil)
	}
}

// ensureConn creates the peer's connection on first use and attaches the
// local capture tracks.
func (m *Manager) ensureConn(p *Peer) (core.PeerConnection, error) {
	if conn := p.connection(); conn != nil {
		return conn, nil
	}
	conn, err := m.conns.NewConnection(p.id)
	if err != nil {
		return nil, err
	}
	conn.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if m.current(p) {
			m.send(protocol.ICECandidate(p.id, c))
		}
	})
	conn.OnTrack(func(t core.RemoteTrack) { m.attachSink(p, t) })
	conn.OnStateChange(func(s domain.ConnectionState) { m.onStateChange(p, s) })

	for _, t := range m.media.Tracks() {
		if err := conn.AddTrack(t); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return nil, ErrPeerClosed
	}
	p.conn = conn
	p.mu.Unlock()
	return conn, nil
}

func (m *Manager) current(p *Peer) bool {
	cur, ok := m.reg.Get(p.id)
	return ok && cur == p
}

func (m *Manager) attachSink(p *Peer, t core.RemoteTrack) {
	if t.Kind() != webrtc.RTPCodecTypeAudio || !m.current(p) {
		return
	}
	sink, err := m.sinks.NewSink(p.id, t)
	if err != nil {
		log.Error().Err(err).Str("module", "mesh").Str("peer", string(p.id)).Msg("create sink")
		return
	}
	var old core.AudioSink
	ok := m.media.AttachSink(p.Name(), sink, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.closed {
			return false
		}
		old = p.sink
		p.sink = sink
		return true
	})
	if ok && old != nil {
		_ = old.Release()
	}
}

// EachSink visits every live sink with its peer's display name.
func (m *Manager) EachSink(fn func(name string, sink core.AudioSink)) {
	for _, p := range m.reg.Snapshot() {
		p.mu.Lock()
		name, sink, closed := p.name, p.sink, p.closed
		p.mu.Unlock()
		if sink != nil && !closed {
			fn(name, sink)
		}
	}
}

// Peers returns a view of every remote participant ordered by name.
func (m *Manager) Peers() []domain.PeerInfo {
	snap := m.reg.Snapshot()
	out := make([]domain.PeerInfo, 0, len(snap))
	for _, p := range snap {
		out = append(out, p.Info())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out
}

func (m *Manager) Len() int { return m.reg.Len() }

// Close tears down every peer without notifying anyone. Idempotent.
func (m *Manager) Close() {
	for _, p := range m.reg.Drain() {
		p.close()
		m.opts.Metrics.Peers.Dec()
		m.opts.Metrics.Removed.WithLabelValues("leave").Inc()
	}
}

func (m *Manager) negotiationFailed(p *Peer, step string, err error) {
	m.opts.Metrics.Negotiations.WithLabelValues(step, "error").Inc()
	log.Error().Err(err).Str("module", "mesh").Str("peer", string(p.id)).Str("step", step).Msg("negotiation failed")
	m.removePeer(p, "negotiation_failed", domain.NewPeerError(domain.KindNegotiationFailed, p.id, err))
}

// removePeer tears p down once; later callers are no-ops.
func (m *Manager) removePeer(p *Peer, reason string, cause error) {
	if !m.reg.RemoveIf(p.id, p) {
		return
	}
	info := p.Info()
	p.close()
	info.State = domain.StateClosed

	m.opts.Metrics.Peers.Dec()
	m.opts.Metrics.Removed.WithLabelValues(reason).Inc()
	log.Info().Str("module", "mesh").Str("peer", string(p.id)).Str("reason", reason).Msg("peer removed")

	if m.opts.OnEvent == nil {
		return
	}
	if cause != nil {
		m.opts.OnEvent(Event{Type: EventPeerError, Peer: info, Err: cause})
	}
	m.opts.OnEvent(Event{Type: EventPeerLeft, Peer: info, Err: cause})
}
