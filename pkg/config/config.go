// Package config loads chatnode's tunable settings from an optional config
// file and CHATNODE_-prefixed environment variables, falling back to the
// engine defaults mandated by spec §4.E and the CLI defaults of §6.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// WellKnownPorts is the default peer set used when --peers is not given.
var WellKnownPorts = []int{9001, 9002, 9003, 9004}

// Config holds every setting a running chatnode instance needs.
type Config struct {
	Node   NodeConfig   `mapstructure:"node"`
	Gossip GossipConfig `mapstructure:"gossip"`
	API    APIConfig    `mapstructure:"api"`
}

// NodeConfig holds node identity and bind settings.
type NodeConfig struct {
	ID    string `mapstructure:"id"`
	Port  int    `mapstructure:"port"`
	Peers []int  `mapstructure:"peers"`
}

// GossipConfig holds the engine's tunable timing constants.
type GossipConfig struct {
	AckTimeout          time.Duration `mapstructure:"ack_timeout"`
	AckCheckInterval    time.Duration `mapstructure:"ack_check_interval"`
	MaxRetries          int           `mapstructure:"max_retries"`
	AntiEntropyInterval time.Duration `mapstructure:"anti_entropy_interval"`
	PeerHealthInterval  time.Duration `mapstructure:"peer_health_interval"`
	PeerTimeout         time.Duration `mapstructure:"peer_timeout"`
}

// APIConfig holds the read-only introspection server's settings.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Default returns the zero-file configuration: §4.E's verbatim timing
// constants, port 9001, and the well-known peer set.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			ID:    "",
			Port:  9001,
			Peers: WellKnownPorts,
		},
		Gossip: GossipConfig{
			AckTimeout:          2000 * time.Millisecond,
			AckCheckInterval:    1000 * time.Millisecond,
			MaxRetries:          3,
			AntiEntropyInterval: 2000 * time.Millisecond,
			PeerHealthInterval:  5000 * time.Millisecond,
			PeerTimeout:         15000 * time.Millisecond,
		},
		API: APIConfig{
			Enabled: true,
			Port:    0, // 0 means "node.port + 1000"; resolved by the caller.
		},
	}
}

// Load reads an optional config file at path, applies CHATNODE_-prefixed
// environment overrides, and falls back to Default for anything unset. An
// empty path skips the file read entirely.
func Load(path string) (*Config, error) {
	def := Default()

	v := viper.New()
	v.SetDefault("node.id", def.Node.ID)
	v.SetDefault("node.port", def.Node.Port)
	v.SetDefault("node.peers", def.Node.Peers)
	v.SetDefault("gossip.ack_timeout", def.Gossip.AckTimeout)
	v.SetDefault("gossip.ack_check_interval", def.Gossip.AckCheckInterval)
	v.SetDefault("gossip.max_retries", def.Gossip.MaxRetries)
	v.SetDefault("gossip.anti_entropy_interval", def.Gossip.AntiEntropyInterval)
	v.SetDefault("gossip.peer_health_interval", def.Gossip.PeerHealthInterval)
	v.SetDefault("gossip.peer_timeout", def.Gossip.PeerTimeout)
	v.SetDefault("api.enabled", def.API.Enabled)
	v.SetDefault("api.port", def.API.Port)

	v.SetEnvPrefix("CHATNODE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants spec §6 and §4.E require of a usable
// configuration.
func (c *Config) Validate() error {
	if c.Node.Port < 1024 || c.Node.Port > 65535 {
		return fmt.Errorf("config: node.port %d out of range [1024, 65535]", c.Node.Port)
	}
	if c.Gossip.MaxRetries < 0 {
		return fmt.Errorf("config: gossip.max_retries must be >= 0")
	}
	for name, d := range map[string]time.Duration{
		"ack_timeout":           c.Gossip.AckTimeout,
		"ack_check_interval":    c.Gossip.AckCheckInterval,
		"anti_entropy_interval": c.Gossip.AntiEntropyInterval,
		"peer_health_interval":  c.Gossip.PeerHealthInterval,
		"peer_timeout":          c.Gossip.PeerTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: gossip.%s must be positive", name)
		}
	}
	return nil
}

// IntrospectionPort returns the port the read-only API server should bind
// to: the configured override, or node.port+1000 by default.
func (c *Config) IntrospectionPort() int {
	if c.API.Port != 0 {
		return c.API.Port
	}
	return c.Node.Port + 1000
}
