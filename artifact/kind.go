// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import "fmt"

// Kind tags an artifact with its consensus role. The set is closed:
// every wire frame and store partition is keyed by one of these
// values, and unknown tags are rejected at decode time.
type Kind uint8

const (
	// KindConsensus is a consensus artifact: block proposals,
	// notarizations, finalization shares.
	KindConsensus Kind = 1

	// KindIngress is a user-submitted ingress message awaiting
	// inclusion in a block.
	KindIngress Kind = 2

	// KindCertification is a state certification signature share.
	KindCertification Kind = 3

	// KindDKG is a distributed key generation dealing or share.
	KindDKG Kind = 4

	// KindStateSync is a state synchronization chunk. Typically the
	// largest artifacts on the wire.
	KindStateSync Kind = 5
)

// Kinds lists every valid kind in tag order.
var Kinds = []Kind{KindConsensus, KindIngress, KindCertification, KindDKG, KindStateSync}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	return k >= KindConsensus && k <= KindStateSync
}

// String returns the canonical lowercase name of the kind. Used in
// store partition directories, metrics labels, and logs.
func (k Kind) String() string {
	switch k {
	case KindConsensus:
		return "consensus"
	case KindIngress:
		return "ingress"
	case KindCertification:
		return "certification"
	case KindDKG:
		return "dkg"
	case KindStateSync:
		return "statesync"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseKind parses a kind from its canonical name.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown artifact kind: %q", name)
}
