package voice

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/media"
	"github.com/dkeye/VoiceMesh/internal/mesh"
)

// Client owns one Call per room scope over a single signaling transport.
// Leaving one scope never touches the others.
type Client struct {
	deps Deps
	opts Options

	mu    sync.Mutex
	calls map[string]*Call
}

func NewClient(deps Deps, opts Options) *Client {
	if opts.Emitter == nil {
		opts.Emitter = NewEmitter()
	}
	if opts.Volumes == nil {
		opts.Volumes = media.NewVolumes()
	}
	if opts.Metrics == nil {
		opts.Metrics = mesh.NewMetrics(nil)
	}
	return &Client{deps: deps, opts: opts, calls: make(map[string]*Call)}
}

// Call returns the call of scope, creating it idle on first use.
func (c *Client) Call(scope domain.RoomScope) (*Call, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if call, ok := c.calls[scope.Key()]; ok {
		return call, nil
	}
	call, err := NewCall(scope, c.deps, c.opts)
	if err != nil {
		return nil, err
	}
	c.calls[scope.Key()] = call
	return call, nil
}

// Lookup returns an existing call without creating one.
func (c *Client) Lookup(scope domain.RoomScope) (*Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.calls[scope.Key()]
	return call, ok
}

func (c *Client) Join(ctx context.Context, scope domain.RoomScope) (*Call, error) {
	call, err := c.Call(scope)
	if err != nil {
		return nil, err
	}
	return call, call.Join(ctx)
}

func (c *Client) Leave(scope domain.RoomScope) {
	if call, ok := c.Lookup(scope); ok {
		call.Leave()
	}
}

// Calls lists every known call ordered by scope.
func (c *Client) Calls() []*Call {
	c.mu.Lock()
	out := make([]*Call, 0, len(c.calls))
	for _, call := range c.calls {
		out = append(out, call)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].scope.Key() < out[j].scope.Key() })
	return out
}

func (c *Client) Subscribe() (<-chan Event, func()) { return c.opts.Emitter.Subscribe(0) }

// Close leaves every scope.
func (c *Client) Close() {
	for _, call := range c.Calls() {
		call.Leave()
	}
}
