// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport moves opaque gossip frames between peers.
//
// The Transport interface exposes a single ordered event stream of
// connection lifecycle changes and inbound frames. TCPTransport is the
// production implementation: one long-lived connection per peer,
// 4-byte length-prefixed frames, and a mutual Ed25519
// challenge-response handshake before any frame crosses. MemNetwork
// provides a synchronous in-process full mesh for tests.
package transport
