package voice

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/VoiceMesh/internal/app"
	"github.com/dkeye/VoiceMesh/internal/app/orch"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/mediatest"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

const waitFor = 2 * time.Second

// memTransport connects a client straight to an in-process relay.
type memTransport struct {
	id    domain.PeerID
	relay *orch.Orchestrator
	inbox chan protocol.Message
	done  chan struct{}
	once  sync.Once

	mu     sync.Mutex
	subs   map[int]chan protocol.Message
	nextID int

	sentMu sync.Mutex
	sent   []protocol.Message
}

func newMemTransport(relay *orch.Orchestrator, id domain.PeerID) *memTransport {
	t := &memTransport{
		id:    id,
		relay: relay,
		inbox: make(chan protocol.Message, 1024),
		done:  make(chan struct{}),
		subs:  make(map[int]chan protocol.Message),
	}
	relay.Connect(id, t, func() {})
	go t.pump()
	return t
}

func (t *memTransport) TrySend(m protocol.Message) error {
	select {
	case t.inbox <- m:
		return nil
	default:
		return errors.New("inbox full")
	}
}

func (t *memTransport) Close() { t.once.Do(func() { close(t.done) }) }

func (t *memTransport) Send(m protocol.Message) error {
	t.sentMu.Lock()
	t.sent = append(t.sent, m)
	t.sentMu.Unlock()
	t.relay.Handle(t.id, m)
	return nil
}

func (t *memTransport) sentOfType(typ string) []protocol.Message {
	t.sentMu.Lock()
	defer t.sentMu.Unlock()
	var out []protocol.Message
	for _, m := range t.sent {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func (t *memTransport) Subscribe() (<-chan protocol.Message, func()) {
	ch := make(chan protocol.Message, 256)
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			close(ch)
			t.mu.Unlock()
		})
	}
}

func (t *memTransport) pump() {
	for {
		select {
		case <-t.done:
			return
		case m := <-t.inbox:
			t.mu.Lock()
			for _, ch := range t.subs {
				ch <- m
			}
			t.mu.Unlock()
		}
	}
}

type participant struct {
	id        domain.PeerID
	transport *memTransport
	capture   *mediatest.FakeProvider
	conns     *mediatest.FakeFactory
	sinks     *mediatest.FakeSinkFactory
	client    *Client
}

func newRelay() *orch.Orchestrator {
	return orch.New(app.NewRegistry(), app.NewRoomManager(), app.MeshPolicy{}, nil)
}

func newParticipant(t *testing.T, relay *orch.Orchestrator, id domain.PeerID, name string) *participant {
	t.Helper()
	p := &participant{
		id:        id,
		transport: newMemTransport(relay, id),
		capture:   &mediatest.FakeProvider{},
		conns:     &mediatest.FakeFactory{EmitTracks: true},
		sinks:     &mediatest.FakeSinkFactory{},
	}
	p.client = NewClient(Deps{
		Transport:   p.transport,
		Capture:     p.capture,
		Connections: p.conns,
		Sinks:       p.sinks,
	}, Options{DisplayName: name, Clock: clock.NewMock()})
	t.Cleanup(func() {
		p.client.Close()
		relay.Disconnect(id)
		p.transport.Close()
	})
	return p
}

func (p *participant) call(t *testing.T, scope domain.RoomScope) *Call {
	t.Helper()
	c, err := p.client.Call(scope)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// connectedTo reports whether c sees exactly ids, all connected.
func connectedTo(c *Call, ids ...domain.PeerID) bool {
	peers := c.Peers()
	if len(peers) != len(ids) {
		return false
	}
	want := make(map[domain.PeerID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, p := range peers {
		if !want[p.ID] || p.State != domain.StateConnected {
			return false
		}
	}
	return true
}
