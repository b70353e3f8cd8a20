package mediatest

import (
	"sync"

	"github.com/dkeye/VoiceMesh/internal/protocol"
)

// Recorder captures outgoing messages.
type Recorder struct {
	mu   sync.Mutex
	Msgs []protocol.Message
	Err  error
}

func (r *Recorder) Send(m protocol.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Msgs = append(r.Msgs, m)
	return nil
}

// OfType returns the recorded messages of type t.
func (r *Recorder) OfType(t string) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.Message
	for _, m := range r.Msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.Msgs = nil
	r.mu.Unlock()
}
