// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ledgermesh/ledgermesh/artifact"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// EnvConfigPath is the environment variable naming the config file.
// The --config flag takes precedence when both are set.
const EnvConfigPath = "LEDGERMESH_CONFIG"

// Duration wraps time.Duration with YAML support for strings like
// "10s" and "1m30s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the master configuration for a ledgermesh replica.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Node identifies this replica and where it listens.
	Node NodeConfig `yaml:"node"`

	// Gossip holds the dissemination policy constants.
	Gossip GossipConfig `yaml:"gossip"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Peers is the static subnet membership: every other replica's
	// identity, transport address, and Ed25519 public key.
	Peers []PeerEntry `yaml:"peers"`

	// Per-environment overrides, applied after the base config.
	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// NodeConfig identifies the local replica.
type NodeConfig struct {
	// PeerID is this replica's stable identity within the subnet.
	PeerID string `yaml:"peer_id"`

	// ListenAddress is the TCP address for inbound peer streams.
	ListenAddress string `yaml:"listen_address"`

	// DataDir is the root directory for the artifact store.
	DataDir string `yaml:"data_dir"`

	// KeyFile is the path to this replica's Ed25519 private key
	// (64 raw bytes).
	KeyFile string `yaml:"key_file"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	// ListenAddress serves /metrics. Empty disables the endpoint.
	ListenAddress string `yaml:"listen_address"`
}

// PeerEntry describes one subnet member.
type PeerEntry struct {
	ID        string `yaml:"id"`
	Address   string `yaml:"address"`
	PublicKey string `yaml:"public_key"` // hex-encoded Ed25519 public key
}

// GossipConfig holds the dissemination policy constants. The retry
// ceiling and timeouts are deliberately configuration, not code: the
// right values depend on subnet size and link quality.
type GossipConfig struct {
	// RetryLimit is the maximum number of fetch attempts per
	// artifact before the tracker abandons it.
	RetryLimit int `yaml:"retry_limit"`

	// RequestTimeout is the deadline for an in-flight request,
	// unless overridden per kind.
	RequestTimeout Duration `yaml:"request_timeout"`

	// KindTimeouts overrides RequestTimeout for specific kinds,
	// keyed by canonical kind name (e.g. "statesync": "30s").
	KindTimeouts map[string]Duration `yaml:"kind_timeouts,omitempty"`

	// SweepInterval is the cadence of the periodic gossip sweep
	// (retry deadlines, stash re-evaluation, entry GC,
	// re-advertisement).
	SweepInterval Duration `yaml:"sweep_interval"`

	// SendQueueCapacity bounds each peer session's outbound queue.
	SendQueueCapacity int `yaml:"send_queue_capacity"`

	// InFlightBudget caps concurrent outstanding requests to a
	// single peer.
	InFlightBudget int `yaml:"in_flight_budget"`

	// RecencyWindow bounds each session's "already sent" set.
	RecencyWindow int `yaml:"recency_window"`

	// EntryTTL is how long an unconfirmed tracker entry may live
	// before it is garbage-collected, and how long a delivered
	// entry is retained for duplicate suppression.
	EntryTTL Duration `yaml:"entry_ttl"`

	// MaxArtifactSize drops adverts for artifacts larger than this
	// many bytes. Zero means no limit.
	MaxArtifactSize uint64 `yaml:"max_artifact_size"`

	// DisabledKinds lists kinds this subnet never fetches, by
	// canonical name.
	DisabledKinds []string `yaml:"disabled_kinds,omitempty"`

	// StashDepthThreshold stashes adverts for a kind while the
	// local consumer queue depth for that kind is at or above this
	// value. Zero disables stashing.
	StashDepthThreshold int `yaml:"stash_depth_threshold"`
}

// Overrides contains fields that can be overridden per environment.
type Overrides struct {
	Node    *NodeConfig    `yaml:"node,omitempty"`
	Gossip  *GossipConfig  `yaml:"gossip,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// DefaultGossip returns the default dissemination policy. The shape
// follows the gossip configuration of comparable replicated ledgers:
// a small per-peer request window, second-scale retransmit deadlines,
// and a bounded receive-check window.
func DefaultGossip() GossipConfig {
	return GossipConfig{
		RetryLimit:          3,
		RequestTimeout:      Duration(10 * time.Second),
		KindTimeouts:        map[string]Duration{artifact.KindStateSync.String(): Duration(30 * time.Second)},
		SweepInterval:       Duration(3 * time.Second),
		SendQueueCapacity:   256,
		InFlightBudget:      8,
		RecencyWindow:       4096,
		EntryTTL:            Duration(5 * time.Minute),
		MaxArtifactSize:     64 << 20,
		StashDepthThreshold: 0,
	}
}

// Load reads the config file at path. When path is empty, the
// LEDGERMESH_CONFIG environment variable is consulted. There are no
// fallbacks or automatic discovery.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		return nil, errors.New("no config file: set " + EnvConfigPath + " or pass --config")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{Gossip: DefaultGossip()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.applyOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyOverrides merges the override section matching the configured
// environment into the base config.
func (c *Config) applyOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}
	if overrides.Node != nil {
		c.Node = *overrides.Node
	}
	if overrides.Gossip != nil {
		c.Gossip = *overrides.Gossip
	}
	if overrides.Metrics != nil {
		c.Metrics = *overrides.Metrics
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	switch c.Environment {
	case Development, Staging, Production:
	case "":
		return errors.New("environment is required")
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}

	if c.Node.PeerID == "" {
		return errors.New("node.peer_id is required")
	}
	if c.Node.ListenAddress == "" {
		return errors.New("node.listen_address is required")
	}

	if err := c.Gossip.Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Peers))
	for _, entry := range c.Peers {
		if entry.ID == "" {
			return errors.New("peer entry with empty id")
		}
		if entry.ID == c.Node.PeerID {
			return fmt.Errorf("peer list contains the local peer %q", entry.ID)
		}
		if seen[entry.ID] {
			return fmt.Errorf("duplicate peer id %q", entry.ID)
		}
		seen[entry.ID] = true
	}
	return nil
}

// Validate checks the gossip policy constants.
func (g *GossipConfig) Validate() error {
	if g.RetryLimit < 1 {
		return errors.New("gossip.retry_limit must be >= 1")
	}
	if g.RequestTimeout <= 0 {
		return errors.New("gossip.request_timeout must be positive")
	}
	if g.SweepInterval <= 0 {
		return errors.New("gossip.sweep_interval must be positive")
	}
	if g.SendQueueCapacity < 1 {
		return errors.New("gossip.send_queue_capacity must be >= 1")
	}
	if g.InFlightBudget < 1 {
		return errors.New("gossip.in_flight_budget must be >= 1")
	}
	if g.RecencyWindow < 1 {
		return errors.New("gossip.recency_window must be >= 1")
	}
	if g.EntryTTL <= 0 {
		return errors.New("gossip.entry_ttl must be positive")
	}
	for name := range g.KindTimeouts {
		if _, err := artifact.ParseKind(name); err != nil {
			return fmt.Errorf("gossip.kind_timeouts: %w", err)
		}
	}
	for _, name := range g.DisabledKinds {
		if _, err := artifact.ParseKind(name); err != nil {
			return fmt.Errorf("gossip.disabled_kinds: %w", err)
		}
	}
	return nil
}

// TimeoutFor returns the request timeout for a kind, honoring
// per-kind overrides.
func (g *GossipConfig) TimeoutFor(kind artifact.Kind) time.Duration {
	if override, ok := g.KindTimeouts[kind.String()]; ok {
		return override.Std()
	}
	return g.RequestTimeout.Std()
}
