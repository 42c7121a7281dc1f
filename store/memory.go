// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"sync"

	"github.com/ledgermesh/ledgermesh/artifact"
)

// MemStore is an in-memory Store. Used by tests and by replicas whose
// pools are rebuilt from peers on restart anyway.
type MemStore struct {
	validator Validator

	mu    sync.RWMutex
	items map[artifact.ID]memItem
	locks *idLocks
}

type memItem struct {
	kind    artifact.Kind
	payload []byte
}

// NewMem creates an in-memory store. validator may be nil, in which
// case only the content hash check guards Put.
func NewMem(validator Validator) *MemStore {
	s := &MemStore{
		validator: validator,
		items:     make(map[artifact.ID]memItem),
	}
	s.locks = newIDLocks(&s.mu)
	return s
}

// Has reports whether the artifact is stored.
func (s *MemStore) Has(id artifact.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

// Get returns a copy of the payload bytes.
func (s *MemStore) Get(id artifact.ID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, false
	}
	payload := make([]byte, len(item.payload))
	copy(payload, item.payload)
	return payload, true
}

// Kind returns the stored artifact's kind.
func (s *MemStore) Kind(id artifact.ID) (artifact.Kind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item.kind, ok
}

// Put validates and stores the payload. First writer wins; concurrent
// writers of the same ID serialize on a per-ID lock and the losers
// observe AlreadyPresent.
func (s *MemStore) Put(id artifact.ID, kind artifact.Kind, payload []byte) (PutResult, error) {
	s.locks.lock(id)
	defer s.locks.unlock(id)

	if s.Has(id) {
		return AlreadyPresent, nil
	}

	if computed := artifact.ComputeID(kind, payload); computed != id {
		return 0, fmt.Errorf("%w: payload hashes to %s, advertised as %s",
			ErrValidation, computed.Short(), id.Short())
	}
	if s.validator != nil {
		if err := s.validator.Validate(id, kind, payload); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	stored := make([]byte, len(payload))
	copy(stored, payload)

	s.mu.Lock()
	s.items[id] = memItem{kind: kind, payload: stored}
	s.mu.Unlock()
	return Inserted, nil
}

// Delete evicts the artifact.
func (s *MemStore) Delete(id artifact.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	delete(s.items, id)
	return ok
}

// Len returns the number of stored artifacts.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
