package types

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Heartbeat is the payload of ping and pong envelopes.
type Heartbeat struct{}

const (
	TypePing = "ping"
	TypePong = "pong"
)

// PayloadRegistry maps message types with a known schema to a factory for
// their Go payload type. Types without an entry decode to json.RawMessage.
type PayloadRegistry struct {
	mu        sync.RWMutex
	factories map[string]func() any
}

// NewPayloadRegistry returns a registry that knows the heartbeat types.
func NewPayloadRegistry() *PayloadRegistry {
	r := &PayloadRegistry{factories: make(map[string]func() any)}
	r.Register(TypePing, func() any { return &Heartbeat{} })
	r.Register(TypePong, func() any { return &Heartbeat{} })
	return r
}

// Register binds msgType to factory. factory must return a pointer.
func (r *PayloadRegistry) Register(msgType string, factory func() any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[msgType] = factory
}

// Known reports whether msgType has a registered schema.
func (r *PayloadRegistry) Known(msgType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[msgType]
	return ok
}

// Payload decodes the envelope data into the registered type for its
// message type, or returns the raw JSON when the type is unknown.
func (e Envelope) Payload(reg *PayloadRegistry) (any, error) {
	if reg == nil {
		return json.RawMessage(e.Data), nil
	}
	reg.mu.RLock()
	factory, ok := reg.factories[e.Type]
	reg.mu.RUnlock()
	if !ok {
		return json.RawMessage(e.Data), nil
	}
	v := factory()
	if err := e.Decode(v); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return v, nil
}
