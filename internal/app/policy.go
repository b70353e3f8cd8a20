package app

import (
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a member whose send queue rejected msgType.
type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession, msgType string) BackpressureAction
}

// MeshPolicy evicts members that lost a message the mesh cannot rebuild
// from: membership changes and offer/answer/candidate exchanges. Speaking
// indicators are superseded by the next edge, so those are only dropped.
type MeshPolicy struct{}

func (MeshPolicy) OnBackPressure(_ core.RoomService, _ core.MemberSession, msgType string) BackpressureAction {
	switch msgType {
	case protocol.TypeSpeakingState:
		return DropFrame
	default:
		return KickMember
	}
}
