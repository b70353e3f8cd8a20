// Package orch implements the relay side of the signaling contract: room
// membership, roster delivery and addressed forwarding between peers.
package orch

import (
	"context"
	"sync"

	"github.com/dkeye/VoiceMesh/internal/app"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Metrics  *app.RelayMetrics

	// membership serialises join/leave so an emptied room is never
	// stopped while someone is joining it.
	membership sync.Mutex
}

func New(reg *app.Registry, rooms core.RoomManager, policy app.Policy, metrics *app.RelayMetrics) *Orchestrator {
	if metrics == nil {
		metrics = app.NewRelayMetrics(nil)
	}
	return &Orchestrator{Registry: reg, Rooms: rooms, Policy: policy, Metrics: metrics}
}

// Connect registers a new signaling client.
func (o *Orchestrator) Connect(id domain.PeerID, sig core.SignalConnection, cancel context.CancelFunc) {
	o.Registry.Bind(id, sig, cancel)
	o.Metrics.Connections.Inc()
}

// Handle dispatches one decoded message from client id.
func (o *Orchestrator) Handle(id domain.PeerID, msg protocol.Message) {
	o.Metrics.Messages.WithLabelValues(msg.Type).Inc()
	switch msg.Type {
	case protocol.TypeJoinRoom:
		o.Join(id, msg.RoomID, msg.DisplayName)
	case protocol.TypeLeaveRoom:
		o.Leave(id, msg.RoomID)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		o.Forward(id, msg)
	case protocol.TypeMuteState:
		o.MuteState(id, msg)
	case protocol.TypeSpeakingState:
		o.SpeakingState(id, msg)
	default:
		log.Warn().Str("module", "orch").Str("peer", string(id)).Str("type", msg.Type).Msg("unknown signal")
		o.reply(id, protocol.Error(msg.RoomID, "unknown_type"))
	}
}

// Disconnect removes the client from every room it is in.
func (o *Orchestrator) Disconnect(id domain.PeerID) {
	for _, room := range o.Registry.RoomsOf(id) {
		o.Leave(id, room)
	}
	if o.Registry.Unbind(id) != nil {
		o.Metrics.Connections.Dec()
	}
}

func (o *Orchestrator) reply(id domain.PeerID, msg protocol.Message) {
	sig, ok := o.Registry.Signal(id)
	if !ok {
		return
	}
	if err := sig.TrySend(msg); err != nil {
		o.Metrics.Dropped.Inc()
		log.Warn().Err(err).Str("module", "orch").Str("peer", string(id)).Str("type", msg.Type).Msg("reply dropped")
	}
}

// applyPolicy acts on members whose queue rejected msgType. A kicked member
// is evicted at once so the rest of the room sees peer-left without waiting
// for its socket to drain.
func (o *Orchestrator) applyPolicy(room core.RoomService, res core.PublishResult, msgType string) {
	if len(res.Dropped) == 0 {
		return
	}
	o.Metrics.Dropped.Add(float64(len(res.Dropped)))
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(room, slow, msgType) {
		case app.KickMember:
			id := slow.Meta().ID
			log.Warn().Str("module", "orch").Str("peer", string(id)).Str("room", room.ID()).Str("type", msgType).Msg("kicking slow member")
			o.Metrics.Kicked.Inc()
			o.Registry.Cancel(id)
			o.Disconnect(id)
		case app.DropFrame, app.NoAction:
			log.Debug().Str("module", "orch").Str("peer", string(slow.Meta().ID)).Str("type", msgType).Msg("frame dropped")
		}
	}
}
