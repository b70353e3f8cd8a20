package orch

import (
	"errors"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

// memberRoom returns the room only if id is currently a member of it.
func (o *Orchestrator) memberRoom(id domain.PeerID, roomID string) (core.RoomService, bool) {
	if !o.Registry.InRoom(id, roomID) {
		return nil, false
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		return nil, false
	}
	if _, ok := room.Member(id); !ok {
		return nil, false
	}
	return room, true
}

// Forward relays an offer, answer or candidate to its target. Both ends must
// be in the message's room, so nothing crosses scope boundaries.
func (o *Orchestrator) Forward(id domain.PeerID, msg protocol.Message) {
	room, ok := o.memberRoom(id, msg.RoomID)
	if !ok {
		o.reply(id, protocol.Error(msg.RoomID, "not_in_room"))
		return
	}
	if msg.TargetPeerID == "" || msg.TargetPeerID == id {
		o.reply(id, protocol.Error(msg.RoomID, "bad_target"))
		return
	}
	msg.PeerID = id
	if err := room.SendTo(msg.TargetPeerID, msg); err != nil {
		if errors.Is(err, core.ErrNotMember) {
			log.Debug().Str("module", "orch").Str("peer", string(id)).Str("target", string(msg.TargetPeerID)).Str("type", msg.Type).Msg("forward target gone")
			return
		}
		log.Warn().Err(err).Str("module", "orch").Str("target", string(msg.TargetPeerID)).Str("type", msg.Type).Msg("forward dropped")
		if target, ok := room.Member(msg.TargetPeerID); ok {
			o.applyPolicy(room, core.PublishResult{Dropped: []core.MemberSession{target}}, msg.Type)
		}
	}
}

func (o *Orchestrator) MuteState(id domain.PeerID, msg protocol.Message) {
	room, ok := o.memberRoom(id, msg.RoomID)
	if !ok {
		return
	}
	room.UpdateMember(id, func(m *domain.Member) { m.Muted = msg.IsMuted })
	o.fanOut(room, id, protocol.Message{Type: protocol.TypeMuteState, RoomID: msg.RoomID, PeerID: id, IsMuted: msg.IsMuted})
}

func (o *Orchestrator) SpeakingState(id domain.PeerID, msg protocol.Message) {
	room, ok := o.memberRoom(id, msg.RoomID)
	if !ok {
		return
	}
	room.UpdateMember(id, func(m *domain.Member) { m.Speaking = msg.IsSpeaking })
	o.fanOut(room, id, protocol.Message{Type: protocol.TypeSpeakingState, RoomID: msg.RoomID, PeerID: id, IsSpeaking: msg.IsSpeaking})
}

func (o *Orchestrator) fanOut(room core.RoomService, from domain.PeerID, msg protocol.Message) {
	o.applyPolicy(room, room.Broadcast(from, msg), msg.Type)
}
