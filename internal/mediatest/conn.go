package mediatest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

var (
	ErrInjected            = errors.New("injected failure")
	ErrNoRemoteDescription = errors.New("remote description not set")
)

// FakeFactory hands out FakeConns. State callbacks are delivered in order on
// a per-connection goroutine, like pion does.
type FakeFactory struct {
	// EmitTracks makes every connection deliver one remote audio track when
	// it first reaches connected.
	EmitTracks bool
	FailNew    error

	mu    sync.Mutex
	Conns []*FakeConn
}

func (f *FakeFactory) NewConnection(peer domain.PeerID) (core.PeerConnection, error) {
	if f.FailNew != nil {
		return nil, f.FailNew
	}
	c := &FakeConn{
		Peer:       peer,
		emitTracks: f.EmitTracks,
		state:      domain.StateNew,
		events:     make(chan func(), 256),
		done:       make(chan struct{}),
	}
	go c.loop()
	f.mu.Lock()
	f.Conns = append(f.Conns, c)
	f.mu.Unlock()
	return c, nil
}

// For returns every connection created for peer, oldest first.
func (f *FakeFactory) For(peer domain.PeerID) []*FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*FakeConn
	for _, c := range f.Conns {
		if c.Peer == peer {
			out = append(out, c)
		}
	}
	return out
}

// Latest returns the newest connection for peer or nil.
func (f *FakeFactory) Latest(peer domain.PeerID) *FakeConn {
	all := f.For(peer)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

type FakeConn struct {
	Peer domain.PeerID

	emitTracks bool
	events     chan func()
	done       chan struct{}

	mu         sync.Mutex
	state      domain.ConnectionState
	failOffer  error
	failApply  error
	remoteSet  bool
	trackSent  bool
	closed     bool
	closes     int
	tracks     []webrtc.TrackLocal
	offers     []bool
	candidates []webrtc.ICECandidateInit
	onICE      func(webrtc.ICECandidateInit)
	onTrack    func(core.RemoteTrack)
	onState    func(domain.ConnectionState)
}

func (c *FakeConn) loop() {
	defer close(c.done)
	for fn := range c.events {
		fn()
	}
}

// enqueueLocked schedules fn on the callback goroutine. Caller holds c.mu.
func (c *FakeConn) enqueueLocked(fn func()) {
	if c.closed {
		return
	}
	c.events <- fn
}

func (c *FakeConn) setStateLocked(s domain.ConnectionState) {
	c.state = s
	cb := c.onState
	c.enqueueLocked(func() {
		if cb != nil {
			cb(s)
		}
	})
	if s == domain.StateConnected && c.emitTracks && !c.trackSent {
		c.trackSent = true
		track := FakeRemoteTrack{TrackID: "remote-" + string(c.Peer)}
		c.enqueueLocked(func() {
			c.mu.Lock()
			fn := c.onTrack
			c.mu.Unlock()
			if fn != nil {
				fn(track)
			}
		})
	}
}

// FailNext makes later CreateOffer / Apply calls return err (nil clears).
func (c *FakeConn) FailNext(offer, apply error) {
	c.mu.Lock()
	c.failOffer, c.failApply = offer, apply
	c.mu.Unlock()
}

// SetState simulates an ICE/DTLS transition.
func (c *FakeConn) SetState(s domain.ConnectionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(s)
}

func (c *FakeConn) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// EmitCandidate simulates a gathered local candidate.
func (c *FakeConn) EmitCandidate(ci webrtc.ICECandidateInit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueueLocked(func() {
		c.mu.Lock()
		fn := c.onICE
		c.mu.Unlock()
		if fn != nil {
			fn(ci)
		}
	})
}

func (c *FakeConn) EmitTrack(t core.RemoteTrack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enqueueLocked(func() {
		c.mu.Lock()
		fn := c.onTrack
		c.mu.Unlock()
		if fn != nil {
			fn(t)
		}
	})
}

func (c *FakeConn) AddTrack(t webrtc.TrackLocal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks = append(c.tracks, t)
	return nil
}

func (c *FakeConn) Tracks() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), c.tracks...)
}

func (c *FakeConn) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOffer != nil {
		return webrtc.SessionDescription{}, c.failOffer
	}
	c.offers = append(c.offers, iceRestart)
	if c.state == domain.StateNew || c.state == domain.StateFailed {
		c.setStateLocked(domain.StateConnecting)
	}
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer-%s-%d", c.Peer, len(c.offers)),
	}, nil
}

// Offers lists the ICE-restart flag of every offer created.
func (c *FakeConn) Offers() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.offers...)
}

func (c *FakeConn) ApplyOffer(sd webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failApply != nil {
		return webrtc.SessionDescription{}, c.failApply
	}
	c.remoteSet = true
	if c.state != domain.StateConnected {
		if c.state == domain.StateNew {
			c.setStateLocked(domain.StateConnecting)
		}
		c.setStateLocked(domain.StateConnected)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-to-" + sd.SDP}, nil
}

func (c *FakeConn) ApplyAnswer(webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failApply != nil {
		return c.failApply
	}
	c.remoteSet = true
	if c.state != domain.StateConnected {
		c.setStateLocked(domain.StateConnected)
	}
	return nil
}

func (c *FakeConn) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remoteSet {
		return ErrNoRemoteDescription
	}
	c.candidates = append(c.candidates, ci)
	return nil
}

func (c *FakeConn) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

func (c *FakeConn) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *FakeConn) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *FakeConn) OnStateChange(fn func(domain.ConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// Close delivers a final closed state on first call.
func (c *FakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(domain.StateClosed)
	c.closed = true
	close(c.events)
	c.mu.Unlock()
	return nil
}

func (c *FakeConn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
