// Package ws is the client side of the signaling relay connection.
package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/VoiceMesh/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("send queue full")
	ErrClosed       = errors.New("transport closed")
)

const (
	writeWait       = 5 * time.Second
	sendQueue       = 64
	subscriberQueue = 64
)

// Transport implements core.SignalTransport over one websocket.
// Every subscriber receives every incoming message in order.
type Transport struct {
	conn  *websocket.Conn
	codec protocol.Codec
	send  chan []byte
	done  chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	ch   chan protocol.Message
	gone chan struct{}
}

// Dial connects to the relay signaling endpoint.
func Dial(ctx context.Context, url string, codec protocol.Codec) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	log.Info().Str("module", "adapters.ws").Str("url", url).Str("codec", codec.Name()).Msg("connected to relay")
	return NewTransport(conn, codec), nil
}

func NewTransport(conn *websocket.Conn, codec protocol.Codec) *Transport {
	t := &Transport{
		conn:  conn,
		codec: codec,
		send:  make(chan []byte, sendQueue),
		done:  make(chan struct{}),
		subs:  make(map[int]*subscriber),
	}
	t.wg.Add(2)
	go t.writePump()
	go t.readPump()
	return t
}

func (t *Transport) Send(m protocol.Message) error {
	data, err := t.codec.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return ErrClosed
	default:
		return ErrBackpressure
	}
}

func (t *Transport) Subscribe() (<-chan protocol.Message, func()) {
	ch := make(chan protocol.Message, subscriberQueue)
	t.mu.Lock()
	select {
	case <-t.done:
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := t.nextID
	t.nextID++
	sub := &subscriber{ch: ch, gone: make(chan struct{})}
	t.subs[id] = sub
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Unblocks a dispatch waiting on this subscriber before taking the lock.
			close(sub.gone)
			t.mu.Lock()
			if _, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(ch)
			}
			t.mu.Unlock()
		})
	}
}

// Done is closed once the connection is gone.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Close shuts the connection and closes every subscription. Idempotent.
func (t *Transport) Close() error {
	t.shutdown()
	t.wg.Wait()
	return nil
}

func (t *Transport) shutdown() {
	t.closeOnce.Do(func() {
		close(t.done)
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		_ = t.conn.Close()

		t.mu.Lock()
		for id, sub := range t.subs {
			delete(t.subs, id)
			close(sub.ch)
		}
		t.mu.Unlock()
	})
}

func (t *Transport) writePump() {
	defer t.wg.Done()
	frameType := websocket.TextMessage
	if t.codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	for {
		select {
		case <-t.done:
			return
		case data := <-t.send:
			if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("set write deadline")
				go t.shutdown()
				return
			}
			if err := t.conn.WriteMessage(frameType, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("write error")
				go t.shutdown()
				return
			}
		}
	}
}

func (t *Transport) readPump() {
	defer t.wg.Done()
	defer func() { go t.shutdown() }()
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				log.Warn().Err(err).Str("module", "adapters.ws").Msg("relay connection lost")
			}
			return
		}
		msg, err := t.codec.Decode(data)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.ws").Msg("bad message from relay")
			continue
		}
		t.dispatch(msg)
	}
}

// dispatch blocks on slow subscribers so no message is silently lost.
func (t *Transport) dispatch(msg protocol.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range t.subs {
		select {
		case sub.ch <- msg:
		case <-sub.gone:
		case <-t.done:
			return
		}
	}
}
