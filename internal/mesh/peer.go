// Package mesh maintains one peer connection per remote member of a room and
// drives each through negotiation, recovery and teardown.
package mesh

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	evConnect    = "connect"
	evEstablish  = "establish"
	evDisconnect = "disconnect"
	evFail       = "fail"
	evClose      = "close"
)

func st(s domain.ConnectionState) string { return string(s) }

func newPeerFSM() *fsm.FSM {
	return fsm.NewFSM(
		st(domain.StateNew),
		fsm.Events{
			{Name: evConnect, Src: []string{st(domain.StateNew), st(domain.StateFailed)}, Dst: st(domain.StateConnecting)},
			{Name: evEstablish, Src: []string{
				st(domain.StateNew), st(domain.StateConnecting), st(domain.StateDisconnected), st(domain.StateFailed),
			}, Dst: st(domain.StateConnected)},
			{Name: evDisconnect, Src: []string{st(domain.StateConnecting), st(domain.StateConnected)}, Dst: st(domain.StateDisconnected)},
			{Name: evFail, Src: []string{
				st(domain.StateConnecting), st(domain.StateConnected), st(domain.StateDisconnected),
			}, Dst: st(domain.StateFailed)},
			{Name: evClose, Src: []string{
				st(domain.StateNew), st(domain.StateConnecting), st(domain.StateConnected),
				st(domain.StateDisconnected), st(domain.StateFailed),
			}, Dst: st(domain.StateClosed)},
		},
		fsm.Callbacks{},
	)
}

func eventFor(s domain.ConnectionState) (string, bool) {
	switch s {
	case domain.StateConnecting:
		return evConnect, true
	case domain.StateConnected:
		return evEstablish, true
	case domain.StateDisconnected:
		return evDisconnect, true
	case domain.StateFailed:
		return evFail, true
	case domain.StateClosed:
		return evClose, true
	}
	return "", false
}

// Peer is one remote participant. The connection and sink are owned
// exclusively by the peer and released exactly once by close.
type Peer struct {
	id  domain.PeerID
	fsm *fsm.FSM

	mu          sync.Mutex
	name        string
	conn        core.PeerConnection
	sink        core.AudioSink
	initiator   bool
	restarted   bool
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	remoteMuted bool
	speaking    bool
	grace       *clock.Timer
	graceGen    uint64
	closed      bool
}

func newPeer(id domain.PeerID, name string, initiator bool) *Peer {
	return &Peer{id: id, name: name, initiator: initiator, fsm: newPeerFSM()}
}

func (p *Peer) ID() domain.PeerID { return p.id }

func (p *Peer) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

func (p *Peer) State() domain.ConnectionState {
	return domain.ConnectionState(p.fsm.Current())
}

// transition feeds a connection state into the machine. It reports whether
// the state actually changed.
func (p *Peer) transition(s domain.ConnectionState) bool {
	ev, ok := eventFor(s)
	if !ok {
		return false
	}
	err := p.fsm.Event(context.Background(), ev)
	if err == nil {
		return true
	}
	var noTransition fsm.NoTransitionError
	if !errors.As(err, &noTransition) {
		log.Debug().Err(err).Str("module", "mesh").Str("peer", string(p.id)).
			Str("from", p.fsm.Current()).Str("event", ev).Msg("ignored transition")
	}
	return false
}

func (p *Peer) Info() domain.PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.PeerInfo{
		ID:          p.id,
		DisplayName: p.name,
		State:       p.State(),
		Muted:       p.remoteMuted,
		Speaking:    p.speaking,
	}
}

func (p *Peer) connection() core.PeerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// close detaches the connection and sink and releases them outside the lock.
// Idempotent.
func (p *Peer) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.grace != nil {
		p.grace.Stop()
		p.grace = nil
	}
	conn, sink := p.conn, p.sink
	p.conn, p.sink = nil, nil
	p.pending = nil
	p.mu.Unlock()

	p.transition(domain.StateClosed)
	if sink != nil {
		if err := sink.Release(); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(p.id)).Msg("sink release")
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Str("module", "mesh").Str("peer", string(p.id)).Msg("connection close")
		}
	}
}
