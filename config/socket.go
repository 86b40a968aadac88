package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// ClientConfig holds messaging client configuration. Intervals are in
// milliseconds to match the wire and file formats.
type ClientConfig struct {
	URL                  string `json:"url" yaml:"url"`
	HeartbeatIntervalMs  int    `json:"heartbeat_interval_ms" yaml:"heartbeat_interval_ms"`
	ReconnectIntervalMs  int    `json:"reconnect_interval_ms" yaml:"reconnect_interval_ms"`
	MaxReconnectAttempts *int   `json:"max_reconnect_attempts,omitempty" yaml:"max_reconnect_attempts,omitempty"`
	HeartbeatTimeoutMs   int    `json:"heartbeat_timeout_ms" yaml:"heartbeat_timeout_ms"` // 0 disables enforcement
	HandshakeTimeoutMs   int    `json:"handshake_timeout_ms" yaml:"handshake_timeout_ms"`
	WriteTimeoutMs       int    `json:"write_timeout_ms" yaml:"write_timeout_ms"`
	EventBufferSize      int    `json:"event_buffer_size" yaml:"event_buffer_size"` // inbound messages queued before the read loop waits
}

const (
	DefaultHeartbeatIntervalMs  = 30000
	DefaultReconnectIntervalMs  = 5000
	DefaultMaxReconnectAttempts = 10
	DefaultHandshakeTimeoutMs   = 10000
	DefaultWriteTimeoutMs       = 10000
	DefaultEventBufferSize      = 256
)

// DefaultConfig returns the default client configuration for url.
func DefaultConfig(url string) ClientConfig {
	return ClientConfig{URL: url}.WithDefaults()
}

// Attempts returns n as a pointer, for setting MaxReconnectAttempts
// explicitly (including zero).
func Attempts(n int) *int { return &n }

// WithDefaults returns a copy with every omitted field filled in.
// MaxReconnectAttempts is a pointer so that an explicit 0 survives.
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.HeartbeatIntervalMs == 0 {
		c.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}
	if c.ReconnectIntervalMs == 0 {
		c.ReconnectIntervalMs = DefaultReconnectIntervalMs
	}
	if c.MaxReconnectAttempts == nil {
		c.MaxReconnectAttempts = Attempts(DefaultMaxReconnectAttempts)
	} else {
		c.MaxReconnectAttempts = Attempts(*c.MaxReconnectAttempts)
	}
	if c.HandshakeTimeoutMs == 0 {
		c.HandshakeTimeoutMs = DefaultHandshakeTimeoutMs
	}
	if c.WriteTimeoutMs == 0 {
		c.WriteTimeoutMs = DefaultWriteTimeoutMs
	}
	if c.EventBufferSize == 0 {
		c.EventBufferSize = DefaultEventBufferSize
	}
	return c
}

// Sanitize returns a copy with defaults applied and every out-of-range
// value replaced: non-positive intervals, timeouts and buffer sizes take
// their defaults, a negative heartbeat timeout disables it and a negative
// attempt budget becomes zero.
func (c ClientConfig) Sanitize() ClientConfig {
	if c.HeartbeatIntervalMs < 0 {
		c.HeartbeatIntervalMs = 0
	}
	if c.ReconnectIntervalMs < 0 {
		c.ReconnectIntervalMs = 0
	}
	if c.HandshakeTimeoutMs < 0 {
		c.HandshakeTimeoutMs = 0
	}
	if c.WriteTimeoutMs < 0 {
		c.WriteTimeoutMs = 0
	}
	if c.EventBufferSize < 0 {
		c.EventBufferSize = 0
	}
	if c.HeartbeatTimeoutMs < 0 {
		c.HeartbeatTimeoutMs = 0
	}
	c = c.WithDefaults()
	if *c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = Attempts(0)
	}
	return c
}

// Validate checks a config that has had defaults applied.
func (c ClientConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidConfig)
	}
	if c.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("%w: heartbeat_interval_ms must be > 0", ErrInvalidConfig)
	}
	if c.ReconnectIntervalMs <= 0 {
		return fmt.Errorf("%w: reconnect_interval_ms must be > 0", ErrInvalidConfig)
	}
	if c.MaxReconnectAttempts != nil && *c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("%w: max_reconnect_attempts must be >= 0", ErrInvalidConfig)
	}
	if c.HeartbeatTimeoutMs < 0 {
		return fmt.Errorf("%w: heartbeat_timeout_ms must be >= 0", ErrInvalidConfig)
	}
	if c.HandshakeTimeoutMs < 0 || c.WriteTimeoutMs < 0 {
		return fmt.Errorf("%w: timeouts must be >= 0", ErrInvalidConfig)
	}
	if c.EventBufferSize < 0 {
		return fmt.Errorf("%w: event_buffer_size must be >= 0", ErrInvalidConfig)
	}
	return nil
}

func (c ClientConfig) HeartbeatInterval() time.Duration { return ms(c.HeartbeatIntervalMs) }
func (c ClientConfig) ReconnectInterval() time.Duration { return ms(c.ReconnectIntervalMs) }
func (c ClientConfig) HeartbeatTimeout() time.Duration  { return ms(c.HeartbeatTimeoutMs) }
func (c ClientConfig) HandshakeTimeout() time.Duration  { return ms(c.HandshakeTimeoutMs) }
func (c ClientConfig) WriteTimeout() time.Duration      { return ms(c.WriteTimeoutMs) }

// MaxAttempts returns the reconnect budget, defaulting when unset.
func (c ClientConfig) MaxAttempts() int {
	if c.MaxReconnectAttempts == nil {
		return DefaultMaxReconnectAttempts
	}
	return *c.MaxReconnectAttempts
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ClientConfigFromEnv loads client configuration from environment variables.
// Falls back to defaults for any missing or unparsable values.
func ClientConfigFromEnv() ClientConfig {
	cfg := ClientConfig{URL: os.Getenv("SOCKET_URL")}

	cfg.HeartbeatIntervalMs = envInt("SOCKET_HEARTBEAT_INTERVAL_MS", 0)
	cfg.ReconnectIntervalMs = envInt("SOCKET_RECONNECT_INTERVAL_MS", 0)
	cfg.HeartbeatTimeoutMs = envInt("SOCKET_HEARTBEAT_TIMEOUT_MS", 0)
	cfg.HandshakeTimeoutMs = envInt("SOCKET_HANDSHAKE_TIMEOUT_MS", 0)
	cfg.WriteTimeoutMs = envInt("SOCKET_WRITE_TIMEOUT_MS", 0)
	cfg.EventBufferSize = envInt("SOCKET_EVENT_BUFFER_SIZE", 0)
	if v, ok := os.LookupEnv("SOCKET_MAX_RECONNECT_ATTEMPTS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxReconnectAttempts = Attempts(n)
		}
	}
	return cfg.WithDefaults()
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
