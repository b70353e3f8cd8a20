package mesh

import (
	"sort"
	"sync"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

// Registry maps peer ids of one scope to their Peer. After Drain it refuses
// new peers.
type Registry struct {
	mu     sync.RWMutex
	peers  map[domain.PeerID]*Peer
	closed bool
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[domain.PeerID]*Peer)}
}

func (r *Registry) Get(id domain.PeerID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// GetOrCreate returns the existing peer or adds a new one. It returns nil
// once the registry is drained.
func (r *Registry) GetOrCreate(id domain.PeerID, name string, initiator bool) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}
	if p, ok := r.peers[id]; ok {
		return p, false
	}
	p := newPeer(id, name, initiator)
	r.peers[id] = p
	return p, true
}

// RemoveIf deletes id only while it still maps to p.
func (r *Registry) RemoveIf(id domain.PeerID, p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.peers[id]; ok && cur == p {
		delete(r.peers, id)
		return true
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Snapshot lists the peers ordered by id.
func (r *Registry) Snapshot() []*Peer {
	r.mu.RLock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Drain empties and closes the registry, returning what it held.
func (r *Registry) Drain() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	out := make([]*Peer, 0, len(r.peers))
	for id, p := range r.peers {
		out = append(out, p)
		delete(r.peers, id)
	}
	return out
}
