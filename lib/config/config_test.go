// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgermesh/ledgermesh/artifact"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const baseConfig = `
environment: production
node:
  peer_id: replica-1
  listen_address: "127.0.0.1:7420"
  data_dir: /var/lib/ledgermesh
gossip:
  retry_limit: 5
  request_timeout: 8s
  sweep_interval: 2s
  send_queue_capacity: 128
  in_flight_budget: 4
  recency_window: 1024
  entry_ttl: 3m
  kind_timeouts:
    statesync: 45s
peers:
  - id: replica-2
    address: "127.0.0.1:7421"
    public_key: "aa"
  - id: replica-3
    address: "127.0.0.1:7422"
    public_key: "bb"
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Node.PeerID != "replica-1" {
		t.Errorf("Node.PeerID = %q", cfg.Node.PeerID)
	}
	if cfg.Gossip.RetryLimit != 5 {
		t.Errorf("Gossip.RetryLimit = %d, want 5", cfg.Gossip.RetryLimit)
	}
	if got := cfg.Gossip.RequestTimeout.Std(); got != 8*time.Second {
		t.Errorf("Gossip.RequestTimeout = %v, want 8s", got)
	}
	if got := cfg.Gossip.TimeoutFor(artifact.KindStateSync); got != 45*time.Second {
		t.Errorf("TimeoutFor(statesync) = %v, want 45s", got)
	}
	if got := cfg.Gossip.TimeoutFor(artifact.KindConsensus); got != 8*time.Second {
		t.Errorf("TimeoutFor(consensus) = %v, want request_timeout 8s", got)
	}
	if len(cfg.Peers) != 2 {
		t.Errorf("len(Peers) = %d, want 2", len(cfg.Peers))
	}
}

func TestLoad_EnvironmentVariable(t *testing.T) {
	path := writeConfig(t, baseConfig)
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") with %s set: %v", EnvConfigPath, err)
	}
	if cfg.Node.PeerID != "replica-1" {
		t.Errorf("Node.PeerID = %q", cfg.Node.PeerID)
	}
}

func TestLoad_NoPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if _, err := Load(""); err == nil {
		t.Error("Load with no path did not fail")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
environment: development
node:
  peer_id: replica-1
  listen_address: "127.0.0.1:7420"
development:
  metrics:
    listen_address: "127.0.0.1:9090"
`))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Metrics.ListenAddress != "127.0.0.1:9090" {
		t.Errorf("Metrics.ListenAddress = %q, override not applied", cfg.Metrics.ListenAddress)
	}
	// Defaults survive when the gossip section is absent.
	if cfg.Gossip.RetryLimit != DefaultGossip().RetryLimit {
		t.Errorf("Gossip.RetryLimit = %d, want default %d", cfg.Gossip.RetryLimit, DefaultGossip().RetryLimit)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing environment", `
node:
  peer_id: replica-1
  listen_address: "127.0.0.1:7420"
`},
		{"missing peer id", `
environment: production
node:
  listen_address: "127.0.0.1:7420"
`},
		{"local peer in peer list", `
environment: production
node:
  peer_id: replica-1
  listen_address: "127.0.0.1:7420"
peers:
  - id: replica-1
    address: "127.0.0.1:7421"
`},
		{"duplicate peer", `
environment: production
node:
  peer_id: replica-1
  listen_address: "127.0.0.1:7420"
peers:
  - id: replica-2
    address: "a"
  - id: replica-2
    address: "b"
`},
		{"unknown disabled kind", `
environment: production
node:
  peer_id: replica-1
  listen_address: "127.0.0.1:7420"
gossip:
  retry_limit: 3
  request_timeout: 10s
  sweep_interval: 3s
  send_queue_capacity: 16
  in_flight_budget: 4
  recency_window: 64
  entry_ttl: 1m
  disabled_kinds: [blobs]
`},
		{"bad duration", `
environment: production
node:
  peer_id: replica-1
  listen_address: "127.0.0.1:7420"
gossip:
  request_timeout: soon
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.content)); err == nil {
				t.Error("Load() accepted invalid config")
			}
		})
	}
}

func TestDefaultGossip_Valid(t *testing.T) {
	defaults := DefaultGossip()
	if err := defaults.Validate(); err != nil {
		t.Errorf("DefaultGossip() invalid: %v", err)
	}
}
