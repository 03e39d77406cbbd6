package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gml4tdm/checkpointed-go/pipeline/registry"
)

// Config is the on-disk shape of a checkpointedctl run config: where a
// pipeline's checkpoints live, and which durable run registry (if any)
// journals its run history.
type Config struct {
	CheckpointRoot string          `yaml:"checkpoint_root"`
	OutputRoot     string          `yaml:"output_root"`
	Registry       *RegistryConfig `yaml:"registry"`
}

// RegistryConfig selects and configures one of pipeline/registry's
// durable backends.
type RegistryConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "mysql"
	DSN    string `yaml:"dsn"`
}

// LoadConfig reads and parses a Config from path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// OpenRegistry builds the registry.Registry named by c.Registry, or nil
// if no registry is configured.
func (c *Config) OpenRegistry() (registry.Registry, error) {
	if c == nil || c.Registry == nil {
		return nil, nil
	}
	switch c.Registry.Driver {
	case "sqlite":
		return registry.NewSQLiteRegistry(c.Registry.DSN)
	case "mysql":
		return registry.NewMySQLRegistry(c.Registry.DSN)
	default:
		return nil, fmt.Errorf("unknown registry driver %q", c.Registry.Driver)
	}
}
