package voice

import (
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

// scopedSignaler confines a shared transport to one room scope: outgoing
// messages are stamped with the wire room id, incoming ones filtered by it.
type scopedSignaler struct {
	scope     domain.RoomScope
	transport core.SignalTransport
}

func (s scopedSignaler) Send(m protocol.Message) error {
	m.RoomID = s.scope.Key()
	return s.transport.Send(m)
}

// Subscribe delivers messages of this scope plus relay errors that carry no
// room. Cancel closes the returned channel once the upstream is drained.
func (s scopedSignaler) Subscribe() (<-chan protocol.Message, func()) {
	upstream, cancel := s.transport.Subscribe()
	out := make(chan protocol.Message, 16)
	key := s.scope.Key()
	go func() {
		defer close(out)
		for m := range upstream {
			if m.RoomID == key || (m.Type == protocol.TypeError && m.RoomID == "") {
				out <- m
			}
		}
	}()
	return out, cancel
}
