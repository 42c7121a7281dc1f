// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

// Ledgermesh-gossipd is the artifact dissemination daemon for one
// replica: it connects to the subnet's peers, floods adverts for
// locally held artifacts, and fetches advertised artifacts into the
// local store.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledgermesh/ledgermesh/directory"
	"github.com/ledgermesh/ledgermesh/gossip"
	"github.com/ledgermesh/ledgermesh/lib/clock"
	"github.com/ledgermesh/ledgermesh/lib/config"
	"github.com/ledgermesh/ledgermesh/lib/version"
	"github.com/ledgermesh/ledgermesh/peer"
	"github.com/ledgermesh/ledgermesh/store"
	"github.com/ledgermesh/ledgermesh/transport"
)

// redialInterval is how often the daemon retries outbound connections
// to peers it is not currently connected to.
const redialInterval = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "path to config file (or set "+config.EnvConfigPath+")")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("ledgermesh-gossipd %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	self := peer.ID(cfg.Node.PeerID)

	logger.Info("starting ledgermesh-gossipd",
		"version", version.Info(),
		"peer_id", self,
		"environment", cfg.Environment,
		"peers", len(cfg.Peers),
	)

	privateKey, err := loadPrivateKey(cfg.Node.KeyFile)
	if err != nil {
		return err
	}
	publicKeys, err := parsePeerKeys(cfg.Peers)
	if err != nil {
		return err
	}

	// The directory is the authority on membership; the transport
	// only decides liveness.
	members := make([]peer.ID, 0, len(cfg.Peers))
	for _, entry := range cfg.Peers {
		members = append(members, peer.ID(entry.ID))
	}
	dir := directory.NewStatic(members...)

	artifacts, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	authenticator := transport.NewEd25519Authenticator(privateKey, func(id peer.ID) (ed25519.PublicKey, bool) {
		key, ok := publicKeys[id]
		return key, ok
	})
	tcp, err := transport.NewTCP(self, cfg.Node.ListenAddress, authenticator, logger)
	if err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	logger.Info("transport listening", "address", tcp.Address())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := gossip.NewMetrics(registry)

	dispatcher, err := gossip.New(gossip.Options{
		Config:    cfg.Gossip,
		Store:     artifacts,
		Transport: tcp,
		Directory: dir,
		Clock:     clock.Real(),
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Metrics.ListenAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Metrics.ListenAddress, Handler: mux}
		go func() {
			logger.Info("metrics listening", "address", cfg.Metrics.ListenAddress)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	go maintainConnections(ctx, tcp, cfg.Peers, self, logger)

	// The dispatcher loop blocks until shutdown.
	runErr := dispatcher.Run(ctx)

	logger.Info("shutting down")
	if err := tcp.Close(); err != nil {
		logger.Warn("transport close failed", "error", err)
	}
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return runErr
}

// loadPrivateKey reads an Ed25519 private key (64 raw bytes) from
// disk.
func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("node.key_file is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key file %s is %d bytes, want %d", path, len(raw), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(raw), nil
}

// parsePeerKeys decodes the hex-encoded Ed25519 public keys from the
// peer list.
func parsePeerKeys(peers []config.PeerEntry) (map[peer.ID]ed25519.PublicKey, error) {
	keys := make(map[peer.ID]ed25519.PublicKey, len(peers))
	for _, entry := range peers {
		raw, err := hex.DecodeString(entry.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("peer %s: decoding public key: %w", entry.ID, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("peer %s: public key is %d bytes, want %d", entry.ID, len(raw), ed25519.PublicKeySize)
		}
		keys[peer.ID(entry.ID)] = ed25519.PublicKey(raw)
	}
	return keys, nil
}

// openStore opens the disk-backed artifact store, or an in-memory one
// when no data directory is configured (the pool is then rebuilt from
// peers on restart).
func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Node.DataDir == "" {
		logger.Info("no data_dir configured, using in-memory artifact store")
		return store.NewMem(nil), nil
	}
	artifacts, err := store.OpenDisk(cfg.Node.DataDir, nil)
	if err != nil {
		return nil, fmt.Errorf("opening artifact store: %w", err)
	}
	logger.Info("artifact store opened", "path", cfg.Node.DataDir, "artifacts", artifacts.Len())
	return artifacts, nil
}

// maintainConnections dials every configured peer with a greater ID
// than ours and keeps retrying while disconnected. The ID ordering
// rule means exactly one side of each pair initiates, so simultaneous
// connects are rare and the transport's tie-break handles the rest.
func maintainConnections(ctx context.Context, tcp *transport.TCPTransport, peers []config.PeerEntry, self peer.ID, logger *slog.Logger) {
	ticker := time.NewTicker(redialInterval)
	defer ticker.Stop()
	for {
		for _, entry := range peers {
			id := peer.ID(entry.ID)
			if id <= self || entry.Address == "" {
				continue
			}
			dialCtx, cancel := context.WithTimeout(ctx, redialInterval)
			err := tcp.Dial(dialCtx, id, entry.Address)
			cancel()
			if err != nil {
				logger.Debug("peer dial failed", "peer", id, "error", err)
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
