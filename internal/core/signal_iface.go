package core

import "github.com/dkeye/VoiceMesh/internal/protocol"

// SignalConnection abstracts a relay-side endpoint of one client.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(protocol.Message) error
	Close()
}

// SignalTransport is the client-side named-event channel to the relay.
// Every subscriber sees every incoming message; cancel closes the channel.
type SignalTransport interface {
	Send(protocol.Message) error
	Subscribe() (<-chan protocol.Message, func())
}
