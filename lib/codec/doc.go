// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the single CBOR configuration used for all
// gossip wire frames.
//
// Encoding uses Core Deterministic Encoding so the same logical frame
// is byte-identical on every replica. Decoding tolerates unknown
// fields so older replicas can skip fields added by newer frame
// revisions.
package codec
