package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/orchestra-mcp/socketclient/src/client"
	"github.com/orchestra-mcp/socketclient/src/types"
	"github.com/rs/zerolog"
)

// Service provides the high-level messaging API over one socket client.
type Service struct {
	client *client.Client
	logger zerolog.Logger
}

// New creates a new service backed by the given client.
func New(c *client.Client, logger zerolog.Logger) *Service {
	return &Service{client: c, logger: logger.With().Str("component", "socket-service").Logger()}
}

// Client returns the underlying client.
func (s *Service) Client() *client.Client { return s.client }

// Start opens the connection.
func (s *Service) Start(ctx context.Context) error {
	return s.client.Connect(ctx)
}

// Stop closes the connection without reconnecting.
func (s *Service) Stop() {
	s.client.Disconnect()
}

// Publish sends an envelope upstream. It fails with ErrNotConnected when
// the connection is down or the write did not go through.
func (s *Service) Publish(msgType string, data any) error {
	if msgType == "" {
		return fmt.Errorf("publish: %w", types.ErrInvalidEnvelope)
	}
	if !s.client.Send(msgType, data) {
		return fmt.Errorf("publish %s: %w", msgType, types.ErrNotConnected)
	}
	return nil
}

// Send satisfies bridge.Sender.
func (s *Service) Send(msgType string, data any) bool {
	return s.client.Send(msgType, data)
}

// Subscribe registers a handler for inbound envelopes of msgType.
func (s *Service) Subscribe(msgType string, handler types.MessageHandler) types.Subscription {
	sub := s.client.On(msgType, handler)
	s.logger.Debug().Str("type", msgType).Str("subscription", sub.ID.String()).Msg("subscribed")
	return sub
}

// Unsubscribe removes a handler registered with Subscribe.
func (s *Service) Unsubscribe(sub types.Subscription) {
	s.client.Off(sub.Key, sub)
	s.logger.Debug().Str("type", sub.Key).Str("subscription", sub.ID.String()).Msg("unsubscribed")
}

// OnLifecycle registers a handler for a lifecycle event.
func (s *Service) OnLifecycle(name types.EventName, handler types.EventHandler) types.Subscription {
	return s.client.AddEventListener(name, handler)
}

// Status is the JSON view of the connection.
type Status struct {
	State            string    `json:"state"`
	Connected        bool      `json:"connected"`
	URL              string    `json:"url"`
	Attempts         int       `json:"reconnect_attempts"`
	MaxAttempts      int       `json:"max_reconnect_attempts"`
	ReconnectPending bool      `json:"reconnect_pending"`
	ConnectedAt      time.Time `json:"connected_at,omitzero"`
	LastPong         time.Time `json:"last_pong,omitzero"`
	Subscriptions    []string  `json:"subscriptions"`
}

// Status returns the current connection status.
func (s *Service) Status() Status {
	st := s.client.Stats()
	cfg := s.client.Config()
	sort.Strings(st.Types)
	return Status{
		State:            st.State.String(),
		Connected:        st.Connected,
		URL:              cfg.URL,
		Attempts:         st.Attempts,
		MaxAttempts:      cfg.MaxAttempts(),
		ReconnectPending: st.ReconnectPending,
		ConnectedAt:      st.ConnectedAt,
		LastPong:         st.LastPong,
		Subscriptions:    st.Types,
	}
}
