package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the controller's own configuration: serial connection
// defaults, discovery cadence, and the manual-move safety envelope. Job
// file layout and any HTTP/WebSocket binding are external collaborators
// and have no place here.
type Config struct {
	Link      LinkConfig      `yaml:"link"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Move      MoveConfig      `yaml:"move"`
}

type LinkConfig struct {
	// Path is a specific serial device to connect to at startup. Empty
	// means rely on auto-discovery instead.
	Path string `yaml:"path"`
	Baud int    `yaml:"baud"`
}

type DiscoveryConfig struct {
	// IntervalSeconds is how often the broker retries auto-discovery
	// while unattached.
	IntervalSeconds int `yaml:"interval_seconds"`
}

type MoveConfig struct {
	MaxXYZ float64 `yaml:"max_xyz_mm"`
	MaxE   float64 `yaml:"max_e_mm"`
}

func DefaultConfig() *Config {
	return &Config{
		Link: LinkConfig{
			Baud: 115200,
		},
		Discovery: DiscoveryConfig{
			IntervalSeconds: 2,
		},
		Move: MoveConfig{
			MaxXYZ: 20,
			MaxE:   100,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Discovery.IntervalSeconds) * time.Second
}
