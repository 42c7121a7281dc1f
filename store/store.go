// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"errors"

	"github.com/ledgermesh/ledgermesh/artifact"
)

// PutResult reports the outcome of a successful Put.
type PutResult int

const (
	// Inserted means this call stored the artifact.
	Inserted PutResult = iota + 1

	// AlreadyPresent means the artifact was stored before this call.
	// Racing writers for the same ID see first-writer-wins: exactly
	// one gets Inserted.
	AlreadyPresent
)

// ErrValidation wraps every rejection of artifact bytes: ID mismatch
// against the content hash, or a veto from the configured Validator.
// The gossip layer treats it as a single opaque error kind that
// triggers a retry against a different peer.
var ErrValidation = errors.New("artifact validation failed")

// Validator is the external validation hook invoked inside Put,
// after the content hash check and before insertion. Implementations
// carry the consensus/ingress/state-sync semantic checks that are out
// of scope for this layer.
type Validator interface {
	Validate(id artifact.ID, kind artifact.Kind, payload []byte) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(id artifact.ID, kind artifact.Kind, payload []byte) error

// Validate calls f.
func (f ValidatorFunc) Validate(id artifact.ID, kind artifact.Kind, payload []byte) error {
	return f(id, kind, payload)
}

// Store is a content-addressed artifact store. It is the source of
// truth for "do we already have this" and is shared read/write by
// every peer session and the dispatcher.
//
// Put serializes writes per artifact ID: no two callers insert the
// same ID concurrently. The first writer wins; later writers observe
// AlreadyPresent without re-running validation.
type Store interface {
	// Has reports whether the artifact is stored.
	Has(id artifact.ID) bool

	// Get returns the payload bytes, or false if absent.
	Get(id artifact.ID) ([]byte, bool)

	// Kind returns the stored artifact's kind, or false if absent.
	Kind(id artifact.ID) (artifact.Kind, bool)

	// Put validates and stores the payload under id. The payload
	// must hash to id under the kind's domain; otherwise Put
	// returns an error wrapping ErrValidation, as it does when the
	// Validator rejects the bytes.
	Put(id artifact.ID, kind artifact.Kind, payload []byte) (PutResult, error)

	// Delete evicts the artifact. Reports whether it was present.
	Delete(id artifact.ID) bool

	// Len returns the number of stored artifacts.
	Len() int
}

// idLocks serializes operations per artifact ID. Lock acquires the
// ID's mutex, creating it on first use; the paired release drops the
// mutex and garbage-collects it once no caller holds or awaits it.
type idLocks struct {
	parent interface{ Lock(); Unlock() }
	held   map[artifact.ID]*idLock
}

type idLock struct {
	mu   chan struct{} // capacity 1, acts as a mutex
	refs int
}

func newIDLocks(parent interface{ Lock(); Unlock() }) *idLocks {
	return &idLocks{parent: parent, held: make(map[artifact.ID]*idLock)}
}

// lock acquires the per-ID mutex. The parent lock guards the map only.
func (l *idLocks) lock(id artifact.ID) {
	l.parent.Lock()
	entry, ok := l.held[id]
	if !ok {
		entry = &idLock{mu: make(chan struct{}, 1)}
		l.held[id] = entry
	}
	entry.refs++
	l.parent.Unlock()

	entry.mu <- struct{}{}
}

// unlock releases the per-ID mutex.
func (l *idLocks) unlock(id artifact.ID) {
	l.parent.Lock()
	entry := l.held[id]
	<-entry.mu
	entry.refs--
	if entry.refs == 0 {
		delete(l.held, id)
	}
	l.parent.Unlock()
}
