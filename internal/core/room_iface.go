package core

import (
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomService is the core-facing API of a relay room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	ID() string
	MemberCount() int
	// Roster lists every member except the given one.
	Roster(except domain.PeerID) []protocol.RosterEntry

	AddMember(ms MemberSession) bool
	RemoveMember(id domain.PeerID) (MemberSession, bool)
	Member(id domain.PeerID) (MemberSession, bool)
	UpdateMember(id domain.PeerID, fn func(*domain.Member)) bool

	Broadcast(from domain.PeerID, msg protocol.Message) PublishResult
	SendTo(id domain.PeerID, msg protocol.Message) error
}

type RoomInfo struct {
	ID          string `json:"id"`
	MemberCount int    `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(id string) RoomService
	Get(id string) (RoomService, bool)
	List() []RoomInfo
	StopRoom(id string)
}
