package redress

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/optout-labs/redress/broker"
	"github.com/optout-labs/redress/store"
)

// Config is the YAML engine configuration. It covers the deployment
// settings an operator tunes; secrets stay in the external credential
// store and runtime hooks (gate, scanner, executors) are wired in code.
type Config struct {
	// Store selects and configures the attempt store backend.
	Store StoreConfig `yaml:"store"`

	// Brokers selects where removal specs are loaded from.
	Brokers BrokerConfig `yaml:"brokers"`

	// PoolSize bounds concurrent removal executions. Zero keeps the
	// default.
	PoolSize int `yaml:"pool_size,omitempty"`

	// TickInterval is how often the scheduler checks for due jobs, as a
	// Go duration string. Empty keeps the default.
	TickInterval string `yaml:"tick_interval,omitempty"`
}

// StoreConfig selects the store backend.
type StoreConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend string `yaml:"backend,omitempty"`

	// URL is the Redis connection string, for the redis backend.
	URL string `yaml:"url,omitempty"`

	// Namespace prefixes every Redis key, for the redis backend.
	Namespace string `yaml:"namespace,omitempty"`
}

// BrokerConfig selects the removal-spec registry. Exactly one of Dir or
// Etcd must be set.
type BrokerConfig struct {
	// Dir is a directory of per-broker YAML spec files.
	Dir string `yaml:"dir,omitempty"`

	// Etcd reads curated specs from an etcd cluster instead.
	Etcd *EtcdBrokerConfig `yaml:"etcd,omitempty"`
}

// EtcdBrokerConfig configures the etcd-backed spec registry.
type EtcdBrokerConfig struct {
	// Endpoints is the list of etcd cluster endpoints.
	Endpoints []string `yaml:"endpoints"`

	// Namespace is the key prefix under which specs are stored.
	Namespace string `yaml:"namespace,omitempty"`
}

// LoadConfig reads and parses an engine config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// Options resolves the config into engine options. The returned options
// go in front of any code-level options, so callers can still override
// individual settings:
//
//	opts, err := cfg.Options()
//	eng, err := redress.New(append(opts, redress.WithGate(gate))...)
func (c *Config) Options() ([]Option, error) {
	var opts []Option

	switch c.Store.Backend {
	case "", "memory":
	case "redis":
		st, err := store.NewRedis(store.RedisOptions{
			URL:       c.Store.URL,
			Namespace: c.Store.Namespace,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithStore(st))
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", ErrInvalidConfig, c.Store.Backend)
	}

	switch {
	case c.Brokers.Dir != "" && c.Brokers.Etcd != nil:
		return nil, fmt.Errorf("%w: brokers.dir and brokers.etcd are mutually exclusive", ErrInvalidConfig)
	case c.Brokers.Dir != "":
		reg, err := broker.LoadDir(c.Brokers.Dir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithRegistry(reg))
	case c.Brokers.Etcd != nil:
		reg, err := broker.NewEtcdRegistry(broker.EtcdConfig{
			Endpoints: c.Brokers.Etcd.Endpoints,
			Namespace: c.Brokers.Etcd.Namespace,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithRegistry(reg))
	default:
		return nil, fmt.Errorf("%w: no broker spec source configured", ErrInvalidConfig)
	}

	if c.PoolSize != 0 {
		opts = append(opts, WithPoolSize(c.PoolSize))
	}
	if c.TickInterval != "" {
		d, err := time.ParseDuration(c.TickInterval)
		if err != nil {
			return nil, fmt.Errorf("%w: tick_interval: %v", ErrInvalidConfig, err)
		}
		opts = append(opts, WithTickInterval(d))
	}

	return opts, nil
}
