package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var ErrUnknownCodec = errors.New("unknown codec")

// Codec turns messages into websocket frames. Binary codecs use binary frames.
type Codec interface {
	Name() string
	Binary() bool
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }
func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Encode(m Message) ([]byte, error) { return json.Marshal(m) }

func (JSONCodec) Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode json message: %w", err)
	}
	return m, nil
}

// MsgpackCodec reuses the json field names so both codecs share one schema.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }
func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode msgpack message: %w", err)
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Decode(data []byte) (Message, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	var m Message
	if err := dec.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("decode msgpack message: %w", err)
	}
	return m, nil
}
