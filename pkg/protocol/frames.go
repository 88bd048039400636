// Package protocol defines the websocket frames exchanged between clients
// and the realtime gateway.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/mahaj/devchat/pkg/realtime"
)

// FrameType identifies the type of a websocket frame.
type FrameType string

const (
	// Client -> Server
	TypeSubscribe          FrameType = "subscribe"
	TypeUnsubscribe        FrameType = "unsubscribe"
	TypeOnce               FrameType = "once"
	TypeSet                FrameType = "set"
	TypeUpdate             FrameType = "update"
	TypePush               FrameType = "push"
	TypeRemove             FrameType = "remove"
	TypeOnDisconnectRemove FrameType = "on_disconnect_remove"
	TypeCancelOnDisconnect FrameType = "cancel_on_disconnect"

	// Server -> Client
	TypeAck       FrameType = "ack"
	TypeEvent     FrameType = "event"
	TypeConnected FrameType = "connected"
	TypeError     FrameType = "error"
)

// Envelope wraps every frame. ID correlates a request with its ack or
// error; server initiated frames carry ID 0.
type Envelope struct {
	Type FrameType       `json:"type"`
	ID   uint64          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Subscribe registers a listener. Sub is chosen by the client and echoed in
// every event the listener produces.
type Subscribe struct {
	Sub   uint64         `json:"sub"`
	Path  string         `json:"path"`
	Event realtime.Event `json:"event"`
}

// Unsubscribe removes the listener Sub, or every listener the connection
// holds on Path when Sub is zero.
type Unsubscribe struct {
	Sub  uint64 `json:"sub,omitempty"`
	Path string `json:"path,omitempty"`
}

// PathOnly is the payload of once, remove, on_disconnect_remove and
// cancel_on_disconnect.
type PathOnly struct {
	Path string `json:"path"`
}

// Write is the payload of set and push.
type Write struct {
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value"`
}

type Update struct {
	Path   string                     `json:"path"`
	Fields map[string]json.RawMessage `json:"fields"`
}

// Ack confirms a request. Push acks carry the generated key, once acks the
// value read.
type Ack struct {
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

type Event struct {
	Sub   uint64          `json:"sub"`
	Event realtime.Event  `json:"event"`
	Path  string          `json:"path"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (e Event) Snapshot() realtime.Snapshot {
	return realtime.Snapshot{Path: e.Path, Key: e.Key, Value: e.Value}
}

// Connected is the first frame of every session.
type Connected struct {
	UID     string `json:"uid"`
	Session string `json:"session"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInvalidFrame = "invalid_frame"
	ErrCodeInternal     = "internal_error"
)

// NewEnvelope creates an envelope with the given type, id and data.
func NewEnvelope(t FrameType, id uint64, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: t, ID: id, Data: raw}, nil
}

// Encode marshals a complete frame.
func Encode(t FrameType, id uint64, data any) ([]byte, error) {
	env, err := NewEnvelope(t, id, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ParseEnvelope parses a JSON frame into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Type == "" {
		return nil, fmt.Errorf("frame without type")
	}
	return &env, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s frame without data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s frame: %w", e.Type, err)
	}
	return nil
}
