// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package gossip implements artifact dissemination across the subnet.
//
// Every replica floods lightweight adverts for the artifacts it holds;
// peers that lack an advertised artifact request it from one
// advertiser at a time, verify the delivered bytes, insert them into
// the store, and re-advertise. The package is built from four parts:
//
//   - the priority classifier, a pure function deciding whether an
//     advertised artifact is fetched now, later, stashed, or dropped;
//   - the advert tracker, a per-artifact state machine enforcing at
//     most one in-flight request per artifact system-wide, a retry
//     ceiling, and idempotent delivery;
//   - peer sessions, one per connected peer, each owning a bounded
//     priority send queue, an in-flight request budget, and a recency
//     set that bounds flood amplification;
//   - the dispatcher, a single event loop turning local production,
//     inbound frames, membership changes, and timer sweeps into
//     tracker and session transitions.
//
// No failure in this package is fatal: transport errors, validation
// rejections, and unavailable artifacts all resolve into local retry
// or abandonment, and a slow peer degrades only its own session.
package gossip
