// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ledgermesh/ledgermesh/artifact"
)

func TestDiskStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDisk(dir, nil)
	if err != nil {
		t.Fatalf("OpenDisk failed: %v", err)
	}

	// One kind per compression tag: zstd, lz4, and none.
	cases := []struct {
		kind    artifact.Kind
		payload []byte
	}{
		{artifact.KindConsensus, bytes.Repeat([]byte("block payload "), 100)},
		{artifact.KindStateSync, bytes.Repeat([]byte("chunk payload "), 100)},
		{artifact.KindCertification, []byte("signature share")},
	}
	for _, tc := range cases {
		id := artifact.ComputeID(tc.kind, tc.payload)
		result, err := s.Put(id, tc.kind, tc.payload)
		if err != nil {
			t.Fatalf("Put(%s) failed: %v", tc.kind, err)
		}
		if result != Inserted {
			t.Fatalf("Put(%s) result = %v, want Inserted", tc.kind, result)
		}
		got, ok := s.Get(id)
		if !ok {
			t.Fatalf("Get(%s) reported absent", tc.kind)
		}
		if !bytes.Equal(got, tc.payload) {
			t.Fatalf("Get(%s) returned corrupted payload", tc.kind)
		}
	}
	if s.Len() != len(cases) {
		t.Fatalf("Len = %d, want %d", s.Len(), len(cases))
	}
}

func TestDiskStoreFileFormat(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDisk(dir, nil)
	if err != nil {
		t.Fatalf("OpenDisk failed: %v", err)
	}

	payload := bytes.Repeat([]byte("compressible consensus bytes "), 50)
	id := artifact.ComputeID(artifact.KindConsensus, payload)
	if _, err := s.Put(id, artifact.KindConsensus, payload); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	path := filepath.Join(dir, "consensus", id.String()+".art")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("artifact file missing: %v", err)
	}
	if CompressionTag(data[0]) != CompressionZstd {
		t.Fatalf("leading tag = %v, want zstd", CompressionTag(data[0]))
	}
	if len(data) >= len(payload) {
		t.Fatalf("stored file (%d bytes) not smaller than payload (%d bytes)",
			len(data), len(payload))
	}
}

func TestDiskStoreReopenRebuildsIndex(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDisk(dir, nil)
	if err != nil {
		t.Fatalf("OpenDisk failed: %v", err)
	}

	payload := []byte("survives restart")
	id := artifact.ComputeID(artifact.KindDKG, payload)
	if _, err := s.Put(id, artifact.KindDKG, payload); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	reopened, err := OpenDisk(dir, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !reopened.Has(id) {
		t.Fatal("index did not rebuild on reopen")
	}
	got, ok := reopened.Get(id)
	if !ok || !bytes.Equal(got, payload) {
		t.Fatal("payload not readable after reopen")
	}
	result, err := reopened.Put(id, artifact.KindDKG, payload)
	if err != nil {
		t.Fatalf("Put after reopen failed: %v", err)
	}
	if result != AlreadyPresent {
		t.Fatalf("Put after reopen result = %v, want AlreadyPresent", result)
	}
}

func TestDiskStoreIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "consensus"), 0o700); err != nil {
		t.Fatal(err)
	}
	foreign := filepath.Join(dir, "consensus", "notes.txt")
	if err := os.WriteFile(foreign, []byte("not an artifact"), 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := OpenDisk(dir, nil)
	if err != nil {
		t.Fatalf("OpenDisk failed: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("foreign file was indexed: Len = %d", s.Len())
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatal("foreign file was removed")
	}
}

func TestDiskStoreValidation(t *testing.T) {
	dir := t.TempDir()
	veto := errors.New("rejected by validator")
	s, err := OpenDisk(dir, ValidatorFunc(func(_ artifact.ID, _ artifact.Kind, payload []byte) error {
		if bytes.Contains(payload, []byte("bad")) {
			return veto
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("OpenDisk failed: %v", err)
	}

	bad := []byte("bad payload")
	badID := artifact.ComputeID(artifact.KindIngress, bad)
	if _, err := s.Put(badID, artifact.KindIngress, bad); !errors.Is(err, ErrValidation) {
		t.Fatalf("Put of vetoed payload: err = %v, want ErrValidation", err)
	}
	if s.Has(badID) {
		t.Fatal("vetoed payload was stored")
	}

	wrongID := artifact.ComputeID(artifact.KindIngress, []byte("other"))
	if _, err := s.Put(wrongID, artifact.KindIngress, []byte("good payload")); !errors.Is(err, ErrValidation) {
		t.Fatalf("Put with mismatched ID: err = %v, want ErrValidation", err)
	}
}

func TestDiskStoreDelete(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenDisk(dir, nil)
	if err != nil {
		t.Fatalf("OpenDisk failed: %v", err)
	}

	payload := []byte("to be evicted")
	id := artifact.ComputeID(artifact.KindStateSync, payload)
	if _, err := s.Put(id, artifact.KindStateSync, payload); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	path := filepath.Join(dir, "statesync", id.String()+".art")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("artifact file missing before Delete: %v", err)
	}

	if !s.Delete(id) {
		t.Fatal("Delete reported absent")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("artifact file still on disk after Delete")
	}
	if s.Delete(id) {
		t.Fatal("second Delete reported present")
	}
}
