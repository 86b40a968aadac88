package client

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/socketclient/src/types"
	"github.com/rs/zerolog"
)

type messageEntry struct {
	id uuid.UUID
	fn types.MessageHandler
}

type eventEntry struct {
	id uuid.UUID
	fn types.EventHandler
}

// router holds the two handler registries. Both live for the whole client
// and are only changed by explicit registration calls.
type router struct {
	mu       sync.RWMutex
	messages map[string][]messageEntry
	events   map[types.EventName][]eventEntry

	logger  zerolog.Logger
	metrics *Metrics
}

func newRouter(logger zerolog.Logger, metrics *Metrics) *router {
	return &router{
		messages: make(map[string][]messageEntry),
		events:   make(map[types.EventName][]eventEntry),
		logger:   logger,
		metrics:  metrics,
	}
}

func (r *router) on(msgType string, fn types.MessageHandler) types.Subscription {
	id := uuid.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[msgType] = append(r.messages[msgType], messageEntry{id: id, fn: fn})
	return types.Subscription{ID: id, Key: msgType}
}

func (r *router) off(msgType string, subs []types.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(subs) == 0 {
		delete(r.messages, msgType)
		return
	}
	kept := r.messages[msgType][:0:0]
	for _, e := range r.messages[msgType] {
		if !containsID(subs, e.id) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(r.messages, msgType)
		return
	}
	r.messages[msgType] = kept
}

func (r *router) addListener(name types.EventName, fn types.EventHandler) types.Subscription {
	id := uuid.New()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[name] = append(r.events[name], eventEntry{id: id, fn: fn})
	return types.Subscription{ID: id, Key: string(name)}
}

func (r *router) removeListener(name types.EventName, subs []types.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(subs) == 0 {
		delete(r.events, name)
		return
	}
	kept := r.events[name][:0:0]
	for _, e := range r.events[name] {
		if !containsID(subs, e.id) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(r.events, name)
		return
	}
	r.events[name] = kept
}

// types returns the message types that currently have handlers.
func (r *router) types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.messages))
	for t := range r.messages {
		out = append(out, t)
	}
	return out
}

func (r *router) handlerCount(msgType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages[msgType])
}

// dispatchMessage invokes every handler for env.Type in registration order.
// The handler list is copied first so handlers may unregister themselves.
func (r *router) dispatchMessage(env types.Envelope) {
	r.mu.RLock()
	handlers := make([]messageEntry, len(r.messages[env.Type]))
	copy(handlers, r.messages[env.Type])
	r.mu.RUnlock()

	if len(handlers) == 0 {
		r.logger.Debug().Str("type", env.Type).Msg("no handler")
		return
	}
	for _, h := range handlers {
		r.invokeMessage(h, env)
	}
}

func (r *router) invokeMessage(h messageEntry, env types.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.handlerFailed("panic")
			r.logger.Error().
				Str("type", env.Type).
				Str("panic", fmt.Sprint(rec)).
				Msg("message handler panicked")
		}
	}()
	if err := h.fn(env); err != nil {
		r.metrics.handlerFailed("error")
		r.logger.Error().Err(err).Str("type", env.Type).Msg("message handler error")
	}
}

func (r *router) dispatchEvent(ev types.Event) {
	r.mu.RLock()
	handlers := make([]eventEntry, len(r.events[ev.Name]))
	copy(handlers, r.events[ev.Name])
	r.mu.RUnlock()

	for _, h := range handlers {
		r.invokeEvent(h, ev)
	}
}

func (r *router) invokeEvent(h eventEntry, ev types.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.handlerFailed("panic")
			r.logger.Error().
				Str("event", string(ev.Name)).
				Str("panic", fmt.Sprint(rec)).
				Msg("event handler panicked")
		}
	}()
	h.fn(ev)
}

func containsID(subs []types.Subscription, id uuid.UUID) bool {
	for _, s := range subs {
		if s.ID == id {
			return true
		}
	}
	return false
}
