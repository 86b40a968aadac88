package types

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is a single wire message: one JSON text frame.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp,omitempty"` // epoch millis, set by the sender
}

// NewEnvelope marshals data and stamps the envelope with the current time.
func NewEnvelope(msgType string, data any) (Envelope, error) {
	if msgType == "" {
		return Envelope{}, fmt.Errorf("%w: empty type", ErrInvalidEnvelope)
	}
	if data == nil {
		data = struct{}{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{
		Type:      msgType,
		Data:      raw,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// ParseEnvelope decodes a text frame. Frames without a type are rejected.
func ParseEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Time returns the sender timestamp, or the zero time if none was set.
func (e Envelope) Time() time.Time {
	if e.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.Timestamp)
}

// MessageHandler handles inbound envelopes of one type.
type MessageHandler func(env Envelope) error

// EventHandler handles connection lifecycle events.
type EventHandler func(ev Event)

// EventName identifies a lifecycle event.
type EventName string

const (
	EventOpen               EventName = "open"
	EventClose              EventName = "close"
	EventError              EventName = "error"
	EventReconnectExhausted EventName = "reconnect_exhausted"
)

// Event is delivered to lifecycle handlers. Err is set for EventError only.
type Event struct {
	Name EventName
	Err  error
	At   time.Time
}

// ReadyState is the connection state of a client.
type ReadyState int32

const (
	StateIdle ReadyState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

// String returns the lower-case state name.
func (s ReadyState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn abstracts a duplex text-frame connection for testability.
// ReadMessage returning an error means the connection is gone; io.EOF
// marks a graceful close by the peer.
type Conn interface {
	WriteMessage(data []byte) error
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens connections to a URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string) (Conn, error)

// Dial calls f(ctx, url).
func (f DialerFunc) Dial(ctx context.Context, url string) (Conn, error) {
	return f(ctx, url)
}

// Subscription identifies one handler registration. Go funcs are not
// comparable, so handlers are removed by the token returned at registration.
type Subscription struct {
	ID  uuid.UUID
	Key string // message type or event name the handler is bound to
}
