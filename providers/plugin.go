package providers

import (
	"context"
	"errors"

	"github.com/orchestra-mcp/socketclient/src/bridge"
	"github.com/orchestra-mcp/socketclient/src/client"
	"github.com/orchestra-mcp/socketclient/src/service"
	"github.com/orchestra-mcp/socketclient/src/transport"
	"github.com/orchestra-mcp/socketclient/src/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// ErrNotActive is returned when the provider is used before Activate.
var ErrNotActive = errors.New("socket client provider not active")

// SocketClientProvider wires the client, its service, the optional Redis
// bridge and the metrics registry into one lifecycle.
type SocketClientProvider struct {
	active   bool
	cfg      AppConfig
	logger   zerolog.Logger
	dialer   types.Dialer
	registry *prometheus.Registry
	client   *client.Client
	service  *service.Service
	bridge   bridge.Bridge
}

// ProviderOption customises a provider.
type ProviderOption func(*SocketClientProvider)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d types.Dialer) ProviderOption {
	return func(p *SocketClientProvider) { p.dialer = d }
}

// NewSocketClientProvider creates a provider for cfg.
func NewSocketClientProvider(cfg AppConfig, logger zerolog.Logger, opts ...ProviderOption) *SocketClientProvider {
	p := &SocketClientProvider{
		cfg:    cfg.WithDefaults(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *SocketClientProvider) ID() string      { return "orchestra/socket-client" }
func (p *SocketClientProvider) Name() string    { return "Socket Client" }
func (p *SocketClientProvider) Version() string { return "0.1.0" }
func (p *SocketClientProvider) IsActive() bool  { return p.active }

// Config returns the effective configuration.
func (p *SocketClientProvider) Config() AppConfig { return p.cfg }

// Service exposes the messaging service, nil before Activate.
func (p *SocketClientProvider) Service() *service.Service { return p.service }

// Registry is the Prometheus registry served on /metrics.
func (p *SocketClientProvider) Registry() *prometheus.Registry { return p.registry }

// Activate builds the client and opens the connection. A failed first
// connect is logged and left to the reconnect policy.
func (p *SocketClientProvider) Activate(ctx context.Context) error {
	if p.active {
		return nil
	}
	if err := p.cfg.Client.Validate(); err != nil {
		return err
	}

	p.registry = prometheus.NewRegistry()
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	dialer := p.dialer
	if dialer == nil {
		dialer = transport.NewDialer(p.cfg.Client)
	}
	p.client = client.New(p.cfg.Client, dialer, p.logger, client.WithMetrics(client.NewMetrics(p.registry)))
	p.service = service.New(p.client, p.logger)

	// Attempt Redis bridge connection (non-fatal if unavailable).
	if p.cfg.Redis.Enabled {
		p.initBridge(ctx)
	}

	p.active = true
	if err := p.service.Start(ctx); err != nil {
		p.logger.Warn().Err(err).Str("url", p.cfg.Client.URL).Msg("initial connect failed, retrying in background")
	}
	p.logger.Info().Str("provider", p.ID()).Msg("socket client provider activated")
	return nil
}

// initBridge tries to start the Redis relay.
// If Redis is not reachable, the client runs standalone.
func (p *SocketClientProvider) initBridge(ctx context.Context) {
	cfg := p.cfg.Redis
	rb := bridge.NewRedisBridge(&cfg, p.service, p.logger)

	if err := rb.Start(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		_ = rb.Stop()
		return
	}

	for _, msgType := range cfg.ForwardTypes {
		p.service.Subscribe(msgType, func(env types.Envelope) error {
			return rb.Publish(env)
		})
	}
	p.bridge = rb
	p.logger.Info().Str("redis_addr", cfg.Addr).Strs("forward_types", cfg.ForwardTypes).Msg("redis bridge connected")
}

// Deactivate stops the bridge and closes the client.
func (p *SocketClientProvider) Deactivate() error {
	if p.bridge != nil {
		if err := p.bridge.Stop(); err != nil {
			p.logger.Error().Err(err).Msg("bridge stop error")
		}
		p.bridge = nil
	}
	if p.client != nil {
		p.client.Close()
	}
	p.active = false
	return nil
}

// BridgeAvailable reports whether the Redis relay is running.
func (p *SocketClientProvider) BridgeAvailable() bool {
	return p.bridge != nil && p.bridge.Available()
}
