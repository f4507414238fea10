// Package codesync keeps a shared text document in step across the data
// channels of a room.
package codesync

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	TypeCodeUpdate  = "code_update"
	TypeSyncRequest = "sync_request"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrUndelivered = errors.New("no open channel to deliver to")
)

// Message is the envelope for everything sent over the sync channel.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

// Update carries a full copy of the document at a version.
type Update struct {
	Content string `msgpack:"content"`
	Version uint64 `msgpack:"version"`
	Author  string `msgpack:"author"`
}

func NewMessage(t string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: t}, nil
	}
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

func Encode(t string, payload any) ([]byte, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return msgpack.Marshal(msg)
}

func Decode(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}
