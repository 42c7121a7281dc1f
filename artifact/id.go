// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// ID is the content-derived identifier of an artifact: a 32-byte
// BLAKE3 keyed hash of the payload under the artifact kind's domain
// key. Globally unique and immutable once assigned.
type ID [32]byte

// Digest is an unkeyed 32-byte BLAKE3 hash of payload bytes, carried
// in adverts as the integrity hash.
type Digest [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation ensures the same payload bytes hash differently per
// kind, so a cross-kind replay never collides on ID.
type domainKey [32]byte

// Per-kind domain keys. Protocol constants: changing one invalidates
// every ID in that kind. The byte values are the ASCII encoding of
// the domain name, zero-padded to 32 bytes, so the keys are
// inspectable in hex dumps without losing any cryptographic property
// (BLAKE3 keyed mode treats the key as an opaque 32-byte value).
var kindDomainKeys = map[Kind]domainKey{
	KindConsensus: {
		'l', 'e', 'd', 'g', 'e', 'r', 'm', 'e', 's', 'h', '.',
		'c', 'o', 'n', 's', 'e', 'n', 's', 'u', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	},
	KindIngress: {
		'l', 'e', 'd', 'g', 'e', 'r', 'm', 'e', 's', 'h', '.',
		'i', 'n', 'g', 'r', 'e', 's', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	},
	KindCertification: {
		'l', 'e', 'd', 'g', 'e', 'r', 'm', 'e', 's', 'h', '.',
		'c', 'e', 'r', 't', 'i', 'f', 'i', 'c', 'a', 't', 'i', 'o', 'n', 0, 0, 0, 0, 0, 0, 0, 0,
	},
	KindDKG: {
		'l', 'e', 'd', 'g', 'e', 'r', 'm', 'e', 's', 'h', '.',
		'd', 'k', 'g', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	},
	KindStateSync: {
		'l', 'e', 'd', 'g', 'e', 'r', 'm', 'e', 's', 'h', '.',
		's', 't', 'a', 't', 'e', 's', 'y', 'n', 'c', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	},
}

// ComputeID derives the content-addressed ID of a payload under the
// given kind's hashing domain. Panics on an invalid kind; callers
// validate kinds at the wire boundary.
func ComputeID(kind Kind, payload []byte) ID {
	key, ok := kindDomainKeys[kind]
	if !ok {
		panic(fmt.Sprintf("artifact: no domain key for kind %d", uint8(kind)))
	}
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on wrong key length, which the
		// fixed-size domainKey type rules out.
		panic("artifact: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	var id ID
	copy(id[:], hasher.Sum(nil))
	return id
}

// IntegrityDigest computes the unkeyed BLAKE3 digest of the payload.
// This is the integrity hash carried in adverts.
func IntegrityDigest(payload []byte) Digest {
	return Digest(blake3.Sum256(payload))
}

// VerifyIntegrity reports whether payload hashes to the expected
// digest. Called on every remote delivery before store insertion.
func VerifyIntegrity(payload []byte, expected Digest) bool {
	return IntegrityDigest(payload) == expected
}

// String returns the full hex encoding of the ID.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Short returns the first 12 hex characters of the ID, the form used
// in logs.
func (id ID) Short() string { return hex.EncodeToString(id[:6]) }

// ParseID parses a 64-character hex string into an ID.
func ParseID(hexString string) (ID, error) {
	var id ID
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return id, fmt.Errorf("parsing artifact ID: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("artifact ID is %d bytes, want %d", len(decoded), len(id))
	}
	copy(id[:], decoded)
	return id, nil
}
