// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact defines the data model of gossiped artifacts: the
// content-derived ID, the closed set of artifact kinds, and the
// Advert announcement that peers broadcast instead of payload bytes.
//
// Artifact IDs are 32-byte BLAKE3 keyed hashes. Each kind has its own
// hashing domain, so identical payload bytes produced under two
// different kinds never collide on ID. The integrity digest is a
// separate, unkeyed BLAKE3 hash of the payload; receivers verify it
// before handing bytes to the store, catching corruption or
// substitution by the serving peer without consulting the validator.
package artifact
