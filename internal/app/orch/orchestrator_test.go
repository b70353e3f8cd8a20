package orch

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/VoiceMesh/internal/app"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inbox struct {
	mu       sync.Mutex
	msgs     []protocol.Message
	full     bool
	canceled bool
}

func (b *inbox) TrySend(m protocol.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.full {
		return errors.New("backpressure")
	}
	b.msgs = append(b.msgs, m)
	return nil
}

func (b *inbox) Close() {}

func (b *inbox) ofType(t string) []protocol.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []protocol.Message
	for _, m := range b.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func newTestOrch() *Orchestrator {
	return New(app.NewRegistry(), app.NewRoomManager(), app.MeshPolicy{}, nil)
}

func connect(o *Orchestrator, id domain.PeerID) *inbox {
	b := &inbox{}
	o.Connect(id, b, func() {
		b.mu.Lock()
		b.canceled = true
		b.mu.Unlock()
	})
	return b
}

const lounge = "lounge:main"

func TestJoinRosterAndPeerJoined(t *testing.T) {
	o := newTestOrch()
	a := connect(o, "a")
	b := connect(o, "b")

	o.Handle("a", protocol.JoinRoom(lounge, "Alice"))
	joined := a.ofType(protocol.TypeRoomJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, domain.PeerID("a"), joined[0].PeerID)
	assert.Empty(t, joined[0].Roster)

	o.Handle("b", protocol.JoinRoom(lounge, "Bob"))
	joined = b.ofType(protocol.TypeRoomJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, []protocol.RosterEntry{{PeerID: "a", DisplayName: "Alice"}}, joined[0].Roster)

	pj := a.ofType(protocol.TypePeerJoined)
	require.Len(t, pj, 1)
	assert.Equal(t, domain.PeerID("b"), pj[0].PeerID)
	assert.Equal(t, "Bob", pj[0].DisplayName)
	assert.Empty(t, b.ofType(protocol.TypePeerJoined))
}

func TestJoinRejectsBadInput(t *testing.T) {
	o := newTestOrch()
	a := connect(o, "a")

	o.Handle("a", protocol.JoinRoom("nowhere", "Alice"))
	o.Handle("a", protocol.JoinRoom(lounge, " "))
	o.Handle("a", protocol.JoinRoom(lounge, "Alice"))
	o.Handle("a", protocol.JoinRoom(lounge, "Alice"))

	errs := a.ofType(protocol.TypeError)
	require.Len(t, errs, 3)
	assert.Equal(t, "invalid_room", errs[0].Error)
	assert.Equal(t, "invalid_name", errs[1].Error)
	assert.Equal(t, "already_in_room", errs[2].Error)
	assert.Len(t, a.ofType(protocol.TypeRoomJoined), 1)
}

func TestForwardStaysInsideRoom(t *testing.T) {
	o := newTestOrch()
	a := connect(o, "a")
	b := connect(o, "b")
	c := connect(o, "c")
	o.Handle("a", protocol.JoinRoom(lounge, "Alice"))
	o.Handle("b", protocol.JoinRoom(lounge, "Bob"))
	o.Handle("c", protocol.JoinRoom("table:1", "Carol"))

	offer := protocol.Offer("b", "v=0")
	offer.RoomID = lounge
	o.Handle("a", offer)

	got := b.ofType(protocol.TypeOffer)
	require.Len(t, got, 1)
	assert.Equal(t, domain.PeerID("a"), got[0].PeerID, "relay stamps the sender")
	assert.Equal(t, "v=0", got[0].SDP)

	cand := protocol.ICECandidate("c", webrtc.ICECandidateInit{Candidate: "candidate:x"})
	cand.RoomID = lounge
	o.Handle("a", cand)
	assert.Empty(t, c.ofType(protocol.TypeICECandidate))

	cross := protocol.Offer("a", "v=0")
	cross.RoomID = lounge
	o.Handle("c", cross)
	assert.Len(t, a.ofType(protocol.TypeOffer), 0)
	assert.Equal(t, "not_in_room", c.ofType(protocol.TypeError)[0].Error)
}

func TestMuteStateUpdatesRoster(t *testing.T) {
	o := newTestOrch()
	a := connect(o, "a")
	b := connect(o, "b")
	o.Handle("a", protocol.JoinRoom(lounge, "Alice"))

	mute := protocol.MuteState(true)
	mute.RoomID = lounge
	o.Handle("a", mute)
	o.Handle("b", protocol.JoinRoom(lounge, "Bob"))

	roster := b.ofType(protocol.TypeRoomJoined)[0].Roster
	require.Len(t, roster, 1)
	assert.True(t, roster[0].IsMuted)

	speak := protocol.SpeakingState(true)
	speak.RoomID = lounge
	o.Handle("b", speak)
	got := a.ofType(protocol.TypeSpeakingState)
	require.Len(t, got, 1)
	assert.Equal(t, domain.PeerID("b"), got[0].PeerID)
	assert.True(t, got[0].IsSpeaking)
}

func TestLeaveAndDisconnect(t *testing.T) {
	o := newTestOrch()
	a := connect(o, "a")
	b := connect(o, "b")
	o.Handle("a", protocol.JoinRoom(lounge, "Alice"))
	o.Handle("a", protocol.JoinRoom("table:9", "Alice"))
	o.Handle("b", protocol.JoinRoom(lounge, "Bob"))
	o.Handle("b", protocol.JoinRoom("table:9", "Bob"))

	o.Handle("a", protocol.LeaveRoom("table:9"))
	o.Handle("a", protocol.LeaveRoom("table:9"))
	left := b.ofType(protocol.TypePeerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "table:9", left[0].RoomID)
	assert.Equal(t, []string{lounge}, o.Registry.RoomsOf("a"))

	o.Disconnect("b")
	left = a.ofType(protocol.TypePeerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, lounge, left[0].RoomID)
	assert.Equal(t, []string{lounge}, roomIDs(o))
	assert.Equal(t, 1, o.Registry.Count())
}

func TestSlowMemberIsKicked(t *testing.T) {
	o := newTestOrch()
	a := connect(o, "a")
	b := connect(o, "b")
	o.Handle("a", protocol.JoinRoom(lounge, "Alice"))

	a.mu.Lock()
	a.full = true
	a.mu.Unlock()
	o.Handle("b", protocol.JoinRoom(lounge, "Bob"))

	a.mu.Lock()
	assert.True(t, a.canceled)
	a.mu.Unlock()
	assert.False(t, b.canceled)

	assert.False(t, o.Registry.InRoom("a", lounge), "evicted without waiting for the socket")
	left := b.ofType(protocol.TypePeerLeft)
	require.Len(t, left, 1)
	assert.EqualValues(t, "a", left[0].PeerID)
}

func TestSlowMemberKeepsSeatOnSpeakingState(t *testing.T) {
	o := newTestOrch()
	a := connect(o, "a")
	b := connect(o, "b")
	o.Handle("a", protocol.JoinRoom(lounge, "Alice"))
	o.Handle("b", protocol.JoinRoom(lounge, "Bob"))

	a.mu.Lock()
	a.full = true
	a.mu.Unlock()
	msg := protocol.SpeakingState(true)
	msg.RoomID = lounge
	o.Handle("b", msg)

	a.mu.Lock()
	assert.False(t, a.canceled)
	a.mu.Unlock()
	assert.True(t, o.Registry.InRoom("a", lounge))
	assert.Empty(t, b.ofType(protocol.TypePeerLeft))
}

func roomIDs(o *Orchestrator) []string {
	var out []string
	for _, r := range o.Rooms.List() {
		out = append(out, r.ID)
	}
	return out
}
