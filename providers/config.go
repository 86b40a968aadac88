package providers

import (
	"fmt"
	"os"

	"github.com/orchestra-mcp/socketclient/config"
	"github.com/orchestra-mcp/socketclient/src/bridge"
)

// HTTPConfig configures the control surface listener.
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"` // default ":8090"
}

// AppConfig is the full configuration of a socket client process.
type AppConfig struct {
	Client config.ClientConfig `json:"client" yaml:"client"`
	HTTP   HTTPConfig          `json:"http" yaml:"http"`
	Redis  bridge.RedisConfig  `json:"redis" yaml:"redis"`
}

const defaultHTTPAddr = ":8090"

// WithDefaults fills omitted fields.
func (c AppConfig) WithDefaults() AppConfig {
	c.Client = c.Client.WithDefaults()
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = defaultHTTPAddr
	}
	def := bridge.DefaultRedisConfig()
	if c.Redis.Addr == "" {
		c.Redis.Addr = def.Addr
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = def.Prefix
	}
	return c
}

// LoadAppConfig reads a YAML file, applies defaults and validates.
func LoadAppConfig(path string) (AppConfig, error) {
	var cfg AppConfig
	if err := config.LoadYAML(path, &cfg); err != nil {
		return AppConfig{}, err
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Client.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// AppConfigFromEnv builds the configuration from environment variables.
func AppConfigFromEnv() AppConfig {
	cfg := AppConfig{
		Client: config.ClientConfigFromEnv(),
		HTTP:   HTTPConfig{Addr: os.Getenv("HTTP_ADDR")},
		Redis:  *bridge.RedisConfigFromEnv(),
	}
	return cfg.WithDefaults()
}
