package orch

import (
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join adds id to roomID, replies with the roster of everyone already there
// and notifies those members, each of whom will then send an offer.
func (o *Orchestrator) Join(id domain.PeerID, roomID, displayName string) {
	if _, err := domain.ParseScope(roomID); err != nil {
		o.reply(id, protocol.Error(roomID, "invalid_room"))
		return
	}
	name, err := domain.NormalizeDisplayName(displayName)
	if err != nil {
		o.reply(id, protocol.Error(roomID, "invalid_name"))
		return
	}
	sig, ok := o.Registry.Signal(id)
	if !ok {
		return
	}

	o.membership.Lock()
	room := o.Rooms.GetOrCreate(roomID)
	if !room.AddMember(core.NewMemberSession(domain.NewMember(id, name), sig)) {
		o.membership.Unlock()
		o.reply(id, protocol.Error(roomID, "already_in_room"))
		return
	}
	o.Registry.AddRoom(id, roomID)
	roster := room.Roster(id)
	o.membership.Unlock()

	o.Metrics.Members.Inc()
	log.Info().Str("module", "orch").Str("peer", string(id)).Str("room", roomID).Int("roster", len(roster)).Msg("joined room")

	o.reply(id, protocol.Message{
		Type:   protocol.TypeRoomJoined,
		RoomID: roomID,
		PeerID: id,
		Roster: roster,
	})
	res := room.Broadcast(id, protocol.Message{
		Type:        protocol.TypePeerJoined,
		RoomID:      roomID,
		PeerID:      id,
		DisplayName: name,
	})
	o.applyPolicy(room, res, protocol.TypePeerJoined)
}

// Leave removes id from roomID and tells the remaining members. Leaving a
// room one is not in is a no-op.
func (o *Orchestrator) Leave(id domain.PeerID, roomID string) {
	o.membership.Lock()
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		o.membership.Unlock()
		return
	}
	if _, ok := room.RemoveMember(id); !ok {
		o.membership.Unlock()
		return
	}
	o.Registry.RemoveRoom(id, roomID)
	o.Rooms.StopRoom(roomID)
	o.membership.Unlock()

	o.Metrics.Members.Dec()
	log.Info().Str("module", "orch").Str("peer", string(id)).Str("room", roomID).Msg("left room")

	res := room.Broadcast(id, protocol.Message{
		Type:   protocol.TypePeerLeft,
		RoomID: roomID,
		PeerID: id,
	})
	o.applyPolicy(room, res, protocol.TypePeerLeft)
}
