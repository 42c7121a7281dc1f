// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import (
	"fmt"
	"testing"

	"github.com/ledgermesh/ledgermesh/artifact"
)

func testID(i int) artifact.ID {
	return artifact.ComputeID(artifact.KindConsensus, fmt.Appendf(nil, "artifact %d", i))
}

func TestRecencySetEvictsOldestInserted(t *testing.T) {
	set := newRecencySet(3)
	for i := 0; i < 3; i++ {
		set.Add(testID(i))
	}
	if set.Len() != 3 {
		t.Fatalf("Len = %d, want 3", set.Len())
	}

	// Fourth insert evicts the oldest.
	set.Add(testID(3))
	if set.Contains(testID(0)) {
		t.Fatal("oldest entry survived eviction")
	}
	for i := 1; i <= 3; i++ {
		if !set.Contains(testID(i)) {
			t.Fatalf("entry %d missing after eviction of oldest", i)
		}
	}
	if set.Len() != 3 {
		t.Fatalf("Len = %d after eviction, want 3", set.Len())
	}
}

func TestRecencySetDuplicateAddIsNoOp(t *testing.T) {
	set := newRecencySet(2)
	set.Add(testID(0))
	set.Add(testID(0))
	set.Add(testID(1))

	// The duplicate must not have consumed a slot: inserting a third
	// distinct ID evicts testID(0), the oldest.
	set.Add(testID(2))
	if set.Contains(testID(0)) {
		t.Fatal("duplicate insert consumed a slot")
	}
	if !set.Contains(testID(1)) || !set.Contains(testID(2)) {
		t.Fatal("newer entries evicted prematurely")
	}
}

func TestRecencySetNeverFalsePositive(t *testing.T) {
	set := newRecencySet(8)
	for i := 0; i < 100; i++ {
		set.Add(testID(i))
	}
	// Anything never inserted must not be reported present.
	if set.Contains(testID(1000)) {
		t.Fatal("false positive for an ID never inserted")
	}
	if set.Len() != 8 {
		t.Fatalf("Len = %d, want capacity 8", set.Len())
	}
}
