package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads a YAML file into out, expanding ${VAR} references first.
func LoadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// Load reads a client config file and applies defaults.
func Load(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if err := LoadYAML(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg.WithDefaults(), nil
}

// LoadAndValidate loads a client config file, applies defaults, and validates.
func LoadAndValidate(path string) (ClientConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return ClientConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
