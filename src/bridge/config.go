package bridge

import (
	"os"
	"strconv"
	"strings"
)

// RedisConfig holds connection settings for the Redis relay.
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr"`         // default "localhost:6379"
	Password string `json:"password" yaml:"password"` // default ""
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"` // default "socketclient:"

	// ForwardTypes lists the inbound envelope types published to Redis.
	// Empty means none.
	ForwardTypes []string `json:"forward_types" yaml:"forward_types"`
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "socketclient:",
	}
}

// InboundChannel is where envelopes received from the socket are published.
func (c *RedisConfig) InboundChannel() string { return c.Prefix + "inbound" }

// OutboundChannel is where other processes publish envelopes to send.
func (c *RedisConfig) OutboundChannel() string { return c.Prefix + "outbound" }

// RedisConfigFromEnv loads Redis configuration from environment variables.
// Falls back to defaults for any missing values.
func RedisConfigFromEnv() *RedisConfig {
	cfg := DefaultRedisConfig()

	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Password = pw
	}
	if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			cfg.DB = db
		}
	}
	if prefix := os.Getenv("REDIS_SOCKET_PREFIX"); prefix != "" {
		cfg.Prefix = prefix
	}
	if types := os.Getenv("REDIS_FORWARD_TYPES"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				cfg.ForwardTypes = append(cfg.ForwardTypes, t)
			}
		}
	}
	return cfg
}
