package voice

import (
	"sync"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

type CallState string

const (
	StateIdle       CallState = "idle"
	StateConnecting CallState = "connecting"
	StateInCall     CallState = "in-call"
)

type EventType string

const (
	EventState       EventType = "state"
	EventPeerJoined  EventType = "peer-joined"
	EventPeerLeft    EventType = "peer-left"
	EventPeerUpdated EventType = "peer-updated"
	EventPeerError   EventType = "peer-error"
	EventRelayError  EventType = "relay-error"
)

type Event struct {
	Type  EventType        `json:"type"`
	Scope domain.RoomScope `json:"scope"`
	State CallState        `json:"state,omitempty"`
	Peer  *domain.PeerInfo `json:"peer,omitempty"`
	Err   error            `json:"-"`
	Error string           `json:"error,omitempty"`
}

// Emitter fans events out to subscribers. A subscriber that falls behind
// misses events instead of stalling the call.
type Emitter struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[int]chan Event)}
}

func (e *Emitter) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			close(ch)
			e.mu.Unlock()
		})
	}
}

func (e *Emitter) Emit(ev Event) {
	if ev.Err != nil && ev.Error == "" {
		ev.Error = ev.Err.Error()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
