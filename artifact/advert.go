// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"fmt"

	"github.com/ledgermesh/ledgermesh/peer"
)

// Advert announces that an artifact exists and is available from a
// peer. It is immutable, cheap to broadcast, and never carries
// payload bytes.
//
// Origin is the peer the advert was received from (or the local peer
// for locally produced artifacts), not necessarily the artifact's
// original producer, since adverts are re-broadcast hop by hop.
type Advert struct {
	ID        ID      `cbor:"id"`
	Kind      Kind    `cbor:"kind"`
	Size      uint64  `cbor:"size"`
	Integrity Digest  `cbor:"integrity"`
	Origin    peer.ID `cbor:"origin"`
}

// NewAdvert builds the advert for a payload produced locally by
// origin.
func NewAdvert(kind Kind, payload []byte, origin peer.ID) Advert {
	return Advert{
		ID:        ComputeID(kind, payload),
		Kind:      kind,
		Size:      uint64(len(payload)),
		Integrity: IntegrityDigest(payload),
		Origin:    origin,
	}
}

// Validate checks the advert's structural invariants at the wire
// boundary: a known kind and a usable origin ID.
func (a Advert) Validate() error {
	if !a.Kind.Valid() {
		return fmt.Errorf("advert %s: invalid kind %d", a.ID.Short(), uint8(a.Kind))
	}
	if err := a.Origin.Validate(); err != nil {
		return fmt.Errorf("advert %s: %w", a.ID.Short(), err)
	}
	return nil
}
