package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/socketclient/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNotStarted is returned by Publish before Start succeeds.
var ErrNotStarted = errors.New("redis bridge not started")

// redisEnvelope wraps an envelope with the originating instance ID
// so that a node can skip its own published messages.
type redisEnvelope struct {
	InstanceID string         `json:"instance_id"`
	Envelope   types.Envelope `json:"envelope"`
}

// RedisBridge publishes inbound socket envelopes to Redis and sends
// envelopes published on the outbound channel through the socket.
type RedisBridge struct {
	client     *redis.Client
	inbound    string
	outbound   string
	instanceID string
	sender     Sender
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	active bool
}

// NewRedisBridge creates a bridge that relays through Redis pub/sub.
func NewRedisBridge(cfg *RedisConfig, sender Sender, logger zerolog.Logger) *RedisBridge {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisBridge{
		client:     client,
		inbound:    cfg.InboundChannel(),
		outbound:   cfg.OutboundChannel(),
		instanceID: uuid.New().String(),
		sender:     sender,
		logger:     logger.With().Str("component", "redis-bridge").Logger(),
	}
}

// InstanceID identifies this bridge in relayed envelopes.
func (b *RedisBridge) InstanceID() string { return b.instanceID }

// Start subscribes to the outbound channel and begins relaying. The bridge
// runs until Stop or until ctx is cancelled.
func (b *RedisBridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if err := b.client.Ping(ctx).Err(); err != nil {
		cancel()
		return err
	}

	sub := b.client.Subscribe(ctx, b.outbound)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return err
	}

	b.mu.Lock()
	b.ctx, b.cancel = ctx, cancel
	b.active = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.listen(ctx, sub)

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("inbound", b.inbound).
		Str("outbound", b.outbound).
		Msg("redis bridge started")
	return nil
}

// Publish sends an envelope received from the socket to the inbound channel.
func (b *RedisBridge) Publish(env types.Envelope) error {
	b.mu.RLock()
	ctx, active := b.ctx, b.active
	b.mu.RUnlock()
	if !active {
		return ErrNotStarted
	}

	data, err := b.encode(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.inbound, data).Err()
}

func (b *RedisBridge) encode(env types.Envelope) ([]byte, error) {
	return json.Marshal(redisEnvelope{InstanceID: b.instanceID, Envelope: env})
}

// Stop unsubscribes and closes the Redis connection.
func (b *RedisBridge) Stop() error {
	b.mu.Lock()
	b.active = false
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	return b.client.Close()
}

// Available reports whether the bridge is connected.
func (b *RedisBridge) Available() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.active
}

// listen reads envelopes from the outbound subscription and sends them.
func (b *RedisBridge) listen(ctx context.Context, sub *redis.PubSub) {
	defer b.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleRedisMessage(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

// handleRedisMessage decodes an envelope and sends non-self envelopes.
func (b *RedisBridge) handleRedisMessage(payload string) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		return
	}
	if env.Envelope.Type == "" {
		b.logger.Warn().Str("from_instance", env.InstanceID).Msg("relayed envelope without type")
		return
	}

	// Skip messages that originated from this instance.
	if env.InstanceID == b.instanceID {
		return
	}

	var data any = env.Envelope.Data
	if len(env.Envelope.Data) == 0 {
		data = nil
	}
	if !b.sender.Send(env.Envelope.Type, data) {
		b.logger.Warn().
			Str("from_instance", env.InstanceID).
			Str("type", env.Envelope.Type).
			Msg("socket not connected, relayed envelope dropped")
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("type", env.Envelope.Type).
		Msg("relayed envelope from redis")
}
