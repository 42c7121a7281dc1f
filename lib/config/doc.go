// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for ledgermesh
// replicas.
//
// Configuration is loaded from a single YAML file specified by:
//   - the LEDGERMESH_CONFIG environment variable, or
//   - the --config flag passed to the daemon
//
// There are no fallbacks or automatic discovery. This keeps
// configuration deterministic and auditable with no hidden overrides.
//
// The file may contain environment-specific sections (development,
// staging, production) that replace base sections when the
// environment matches. Gossip policy constants (retry ceiling,
// request timeouts, queue capacities, the recency window) live here
// rather than in code because the right values depend on subnet size
// and link quality.
package config
