// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package peer defines the stable identity of a subnet member.
//
// A peer ID is an opaque string assigned by the subnet's membership
// layer (see the directory package). Equality is by identity value,
// never by network address: a peer keeps its ID across reconnects
// even when its address changes.
package peer

import "fmt"

// ID identifies a subnet member. The zero value is invalid.
type ID string

// String returns the ID as a plain string.
func (id ID) String() string { return string(id) }

// Validate reports whether the ID is usable: non-empty and at most
// MaxIDLength bytes. Transport handshakes reject peers with invalid
// IDs before any frames are exchanged.
func (id ID) Validate() error {
	if id == "" {
		return fmt.Errorf("peer ID is empty")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("peer ID is %d bytes, max %d", len(id), MaxIDLength)
	}
	return nil
}

// MaxIDLength bounds the wire size of a peer ID in handshake and
// gossip frames.
const MaxIDLength = 128
