// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ledgermesh/ledgermesh/artifact"
)

// DiskStore is a Store persisted as one file per artifact under a
// per-kind partition directory:
//
//	<root>/<kind>/<id-hex>.art
//
// Each file is a one-byte compression tag followed by the (possibly
// compressed) payload. Writes go through a temp file and rename so a
// crash never leaves a partial artifact visible. An in-memory index
// built at open answers Has/Len without touching the filesystem.
type DiskStore struct {
	root      string
	validator Validator

	mu    sync.RWMutex
	index map[artifact.ID]artifact.Kind
	locks *idLocks
}

const artifactFileSuffix = ".art"

// OpenDisk opens (or initializes) a disk store rooted at dir.
// validator may be nil.
func OpenDisk(dir string, validator Validator) (*DiskStore, error) {
	s := &DiskStore{
		root:      dir,
		validator: validator,
		index:     make(map[artifact.ID]artifact.Kind),
	}
	s.locks = newIDLocks(&s.mu)

	for _, kind := range artifact.Kinds {
		partition := filepath.Join(dir, kind.String())
		if err := os.MkdirAll(partition, 0o700); err != nil {
			return nil, fmt.Errorf("creating store partition %s: %w", partition, err)
		}
		entries, err := os.ReadDir(partition)
		if err != nil {
			return nil, fmt.Errorf("scanning store partition %s: %w", partition, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasSuffix(name, artifactFileSuffix) {
				continue
			}
			id, err := artifact.ParseID(strings.TrimSuffix(name, artifactFileSuffix))
			if err != nil {
				// Foreign file in the partition; leave it alone.
				continue
			}
			s.index[id] = kind
		}
	}
	return s, nil
}

func (s *DiskStore) path(kind artifact.Kind, id artifact.ID) string {
	return filepath.Join(s.root, kind.String(), id.String()+artifactFileSuffix)
}

// Has reports whether the artifact is stored.
func (s *DiskStore) Has(id artifact.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id]
	return ok
}

// Get reads and decompresses the payload.
func (s *DiskStore) Get(id artifact.ID) ([]byte, bool) {
	s.mu.RLock()
	kind, ok := s.index[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	data, err := os.ReadFile(s.path(kind, id))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	payload, err := Decompress(data[1:], CompressionTag(data[0]))
	if err != nil {
		return nil, false
	}
	return payload, true
}

// Kind returns the stored artifact's kind from the index.
func (s *DiskStore) Kind(id artifact.ID) (artifact.Kind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kind, ok := s.index[id]
	return kind, ok
}

// Put validates, compresses, and persists the payload. First writer
// wins.
func (s *DiskStore) Put(id artifact.ID, kind artifact.Kind, payload []byte) (PutResult, error) {
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

	tag := compressionForKind(kind)
	compressed, err := Compress(payload, tag)
	if err != nil {
		return 0, fmt.Errorf("compressing artifact %s: %w", id.Short(), err)
	}

	finalPath := s.path(kind, id)
	tempFile, err := os.CreateTemp(filepath.Dir(finalPath), ".put-*")
	if err != nil {
		return 0, fmt.Errorf("writing artifact %s: %w", id.Short(), err)
	}
	tempPath := tempFile.Name()

	_, writeErr := tempFile.Write(append([]byte{byte(tag)}, compressed...))
	closeErr := tempFile.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tempPath)
		if writeErr == nil {
			writeErr = closeErr
		}
		return 0, fmt.Errorf("writing artifact %s: %w", id.Short(), writeErr)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return 0, fmt.Errorf("writing artifact %s: %w", id.Short(), err)
	}

	s.mu.Lock()
	s.index[id] = kind
	s.mu.Unlock()
	return Inserted, nil
}

// Delete evicts the artifact from disk and the index.
func (s *DiskStore) Delete(id artifact.ID) bool {
	s.mu.Lock()
	kind, ok := s.index[id]
	delete(s.index, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	os.Remove(s.path(kind, id))
	return true
}

// Len returns the number of indexed artifacts.
func (s *DiskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}
