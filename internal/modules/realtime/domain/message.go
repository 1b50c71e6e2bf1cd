package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies the envelopes exchanged between servers and clients.
type MessageType string

const (
	TypeEvent       MessageType = "event"
	TypeSubscribe   MessageType = "subscribe"
	TypeUnsubscribe MessageType = "unsubscribe"
	TypeError       MessageType = "error"
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
)

// Valid reports whether the type is one of the supported envelope kinds.
func (t MessageType) Valid() bool {
	switch t {
	case TypeEvent, TypeSubscribe, TypeUnsubscribe, TypeError, TypePing, TypePong:
		return true
	}
	return false
}

// Events emitted by the server itself rather than by publishers.
const (
	EventConnected     = "system.connected"
	EventMemberAdded   = "member_added"
	EventMemberRemoved = "member_removed"
)

// Message is the immutable envelope carried over transports and brokers.
// Its JSON form is the canonical wire encoding: empty channel and event are
// omitted, the timestamp is seconds since epoch.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Event     string      `json:"event,omitempty"`
	Data      any         `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewMessage builds an envelope of the given type with a fresh id and the
// current timestamp. Messages are never mutated after construction.
func NewMessage(msgType MessageType, channel, event string, data any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Channel:   channel,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
}

// NewEventMessage builds the envelope used by broadcast and send paths.
func NewEventMessage(channel, event string, data any) *Message {
	return NewMessage(TypeEvent, channel, event, data)
}

// NewErrorMessage builds the envelope sent back to a client when a command
// or subscription fails.
func NewErrorMessage(reason string) *Message {
	return NewMessage(TypeError, "", "", map[string]any{"reason": reason})
}

// NewPongMessage answers a client ping.
func NewPongMessage() *Message {
	return NewMessage(TypePong, "", "", nil)
}

// Encode returns the canonical JSON form of the message.
func (m *Message) Encode() ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return raw, nil
}

// DecodeMessage parses the canonical JSON form back into a Message.
func DecodeMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}
