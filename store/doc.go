// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package store provides content-addressed artifact storage for the
// gossip layer.
//
// Two implementations share the Store interface: MemStore keeps
// payloads in a map and is the default for pools rebuilt on restart,
// DiskStore persists one file per artifact with per-kind at-rest
// compression and survives restarts by rescanning its partitions.
//
// Both enforce the same write discipline: the payload must hash to the
// ID it was advertised under, the optional Validator gets a veto, and
// concurrent writers of the same ID serialize with first-writer-wins.
package store
