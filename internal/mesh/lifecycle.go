package mesh

import (
	"errors"

	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrPeerClosed = errors.New("peer closed")

func (m *Manager) onStateChange(p *Peer, s domain.ConnectionState) {
	if !m.current(p) {
		return
	}
	if !p.transition(s) {
		return
	}
	log.Debug().Str("module", "mesh").Str("peer", string(p.id)).Str("state", s.String()).Msg("peer state")
	m.emit(EventPeerUpdated, p, nil)

	switch s {
	case domain.StateConnected:
		m.stopGrace(p)
		p.mu.Lock()
		p.restarted = false
		p.mu.Unlock()
	case domain.StateDisconnected:
		m.startGrace(p)
	case domain.StateFailed:
		m.recover(p)
	case domain.StateClosed:
		m.removePeer(p, "closed", nil)
	}
}

// recover attempts a single ICE restart. Only the side that sent the first
// offer restarts; the other side waits for that offer under the grace timer.
func (m *Manager) recover(p *Peer) {
	p.mu.Lock()
	if p.restarted {
		p.mu.Unlock()
		m.removePeer(p, "connection_lost",
			domain.NewPeerError(domain.KindConnectionLost, p.id, errors.New("failed after ice restart")))
		return
	}
	p.restarted = true
	initiator := p.initiator
	conn := p.conn
	p.mu.Unlock()

	if !initiator || conn == nil {
		m.startGrace(p)
		return
	}

	m.opts.Metrics.Restarts.Inc()
	p.transition(domain.StateConnecting)
	offer, err := conn.CreateOffer(true)
	if err != nil {
		m.negotiationFailed(p, "restart", err)
		return
	}
	log.Info().Str("module", "mesh").Str("peer", string(p.id)).Msg("ice restart offer sent")
	m.send(protocol.Offer(p.id, offer.SDP))
	// The restart gets a full grace period of its own.
	m.stopGrace(p)
	m.startGrace(p)
}

func (m *Manager) startGrace(p *Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.grace != nil {
		return
	}
	p.graceGen++
	gen := p.graceGen
	p.grace = m.opts.Clock.AfterFunc(m.opts.GracePeriod, func() { m.graceExpired(p, gen) })
}

func (m *Manager) stopGrace(p *Peer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.grace != nil {
		p.grace.Stop()
		p.grace = nil
	}
}

func (m *Manager) graceExpired(p *Peer, gen uint64) {
	p.mu.Lock()
	if p.grace == nil || p.graceGen != gen {
		p.mu.Unlock()
		return
	}
	p.grace = nil
	restarting := p.restarted
	p.mu.Unlock()

	state := p.State()
	switch {
	case state == domain.StateDisconnected, state == domain.StateFailed,
		state == domain.StateConnecting && restarting:
		log.Info().Str("module", "mesh").Str("peer", string(p.id)).Msg("grace period lapsed")
		m.removePeer(p, "grace_expired",
			domain.NewPeerError(domain.KindConnectionLost, p.id, errors.New("did not recover within grace period")))
	}
}
