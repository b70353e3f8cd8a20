package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	mu   sync.Mutex
	got  []protocol.Message
	full bool
}

func (c *recordingConn) TrySend(m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("backpressure")
	}
	c.got = append(c.got, m)
	return nil
}

func (c *recordingConn) Close() {}

func TestRoomBroadcastSkipsSenderAndReportsDrops(t *testing.T) {
	room := NewRoomService("lounge:main")
	a, b, slow := &recordingConn{}, &recordingConn{}, &recordingConn{full: true}
	require.True(t, room.AddMember(NewMemberSession(domain.NewMember("a", "Alice"), a)))
	require.True(t, room.AddMember(NewMemberSession(domain.NewMember("b", "Bob"), b)))
	require.True(t, room.AddMember(NewMemberSession(domain.NewMember("c", "Carol"), slow)))
	assert.False(t, room.AddMember(NewMemberSession(domain.NewMember("a", "Alice"), a)))

	res := room.Broadcast("a", protocol.MuteState(true))
	assert.Equal(t, 1, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, domain.PeerID("c"), res.Dropped[0].Meta().ID)
	assert.Empty(t, a.got)
	assert.Len(t, b.got, 1)
}

func TestRoomRosterExcludesSelf(t *testing.T) {
	room := NewRoomService("table:1")
	room.AddMember(NewMemberSession(domain.NewMember("b", "Bob"), &recordingConn{}))
	room.AddMember(NewMemberSession(domain.NewMember("a", "Alice"), &recordingConn{}))
	room.UpdateMember("b", func(m *domain.Member) { m.Muted = true })

	assert.Equal(t, []protocol.RosterEntry{{PeerID: "b", DisplayName: "Bob", IsMuted: true}}, room.Roster("a"))
	assert.Len(t, room.Roster(""), 2)

	_, ok := room.RemoveMember("b")
	assert.True(t, ok)
	_, ok = room.RemoveMember("b")
	assert.False(t, ok)
	assert.ErrorIs(t, room.SendTo("b", protocol.MuteState(false)), ErrNotMember)
}
