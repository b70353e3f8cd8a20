package core

import (
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrNotMember = errors.New("not a room member")

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	id      string
	mu      sync.RWMutex
	members map[domain.PeerID]MemberSession
}

func NewRoomService(id string) RoomService {
	return &roomImpl{
		id:      id,
		members: make(map[domain.PeerID]MemberSession),
	}
}

func (r *roomImpl) ID() string { return r.id }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) AddMember(ms MemberSession) bool {
	id := ms.Meta().ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[id]; ok {
		return false
	}
	r.members[id] = ms
	log.Info().Str("module", "core.room").Str("room", r.id).Str("peer", string(id)).Msg("member added")
	return true
}

func (r *roomImpl) RemoveMember(id domain.PeerID) (MemberSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.members[id]
	if !ok {
		return nil, false
	}
	delete(r.members, id)
	log.Info().Str("module", "core.room").Str("room", r.id).Str("peer", string(id)).Msg("member removed")
	return ms, true
}

func (r *roomImpl) Member(id domain.PeerID) (MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.members[id]
	return ms, ok
}

func (r *roomImpl) UpdateMember(id domain.PeerID, fn func(*domain.Member)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.members[id]
	if !ok {
		return false
	}
	fn(ms.Meta())
	return true
}

func (r *roomImpl) Broadcast(from domain.PeerID, msg protocol.Message) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, m := range r.members {
		if id == from {
			continue
		}
		if err := m.Signal().TrySend(msg); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", r.id).Str("type", msg.Type).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) SendTo(id domain.PeerID, msg protocol.Message) error {
	r.mu.RLock()
	ms, ok := r.members[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotMember
	}
	return ms.Signal().TrySend(msg)
}

func (r *roomImpl) Roster(except domain.PeerID) []protocol.RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.RosterEntry, 0, len(r.members))
	for id, ms := range r.members {
		if id == except {
			continue
		}
		m := ms.Meta()
		out = append(out, protocol.RosterEntry{PeerID: m.ID, DisplayName: m.DisplayName, IsMuted: m.Muted})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}
