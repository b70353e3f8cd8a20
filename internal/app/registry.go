package app

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Signal core.SignalConnection
	Rooms  map[string]struct{}
	Cancel context.CancelFunc
}

// Registry tracks every connected signaling client and the rooms it joined.
// One connection may sit in several rooms at once (lounge and a table).
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.PeerID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.PeerID]*sessionEntry),
	}
}

func (r *Registry) Bind(id domain.PeerID, sig core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &sessionEntry{
		Signal: sig,
		Rooms:  make(map[string]struct{}),
		Cancel: cancel,
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("bound signal")
}

func (r *Registry) Signal(id domain.PeerID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Signal, true
	}
	return nil, false
}

// Unbind forgets the client and returns the rooms it was still in.
func (r *Registry) Unbind(id domain.PeerID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("unbind session")
	return sortedRooms(e.Rooms)
}

func (r *Registry) AddRoom(id domain.PeerID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return false
	}
	e.Rooms[room] = struct{}{}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Str("room", room).Msg("added room")
	return true
}

func (r *Registry) RemoveRoom(id domain.PeerID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return false
	}
	if _, in := e.Rooms[room]; !in {
		return false
	}
	delete(e.Rooms, room)
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Str("room", room).Msg("removed room association")
	return true
}

func (r *Registry) InRoom(id domain.PeerID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return false
	}
	_, in := e.Rooms[room]
	return in
}

func (r *Registry) RoomsOf(id domain.PeerID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil
	}
	return sortedRooms(e.Rooms)
}

func (r *Registry) Cancel(id domain.PeerID) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("canceled session")
	return true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func sortedRooms(rooms map[string]struct{}) []string {
	out := make([]string, 0, len(rooms))
	for room := range rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}
