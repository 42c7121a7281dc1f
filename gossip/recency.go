// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package gossip

import "github.com/ledgermesh/ledgermesh/artifact"

// recencySet remembers the most recently inserted artifact IDs, up to
// a fixed capacity, evicting oldest-inserted first. Sessions use it as
// the "already sent to this peer" dedup filter: a false negative
// (occasional duplicate send after eviction) is tolerated, a wrong
// insertion never happens, so no artifact is permanently withheld.
//
// Not safe for concurrent use; each owner guards its own set.
type recencySet struct {
	capacity int
	ring     []artifact.ID
	next     int
	members  map[artifact.ID]struct{}
}

func newRecencySet(capacity int) *recencySet {
	return &recencySet{
		capacity: capacity,
		ring:     make([]artifact.ID, 0, capacity),
		members:  make(map[artifact.ID]struct{}, capacity),
	}
}

// Add inserts the ID, evicting the oldest entry at capacity. A no-op
// if already present (insertion order is not refreshed).
func (s *recencySet) Add(id artifact.ID) {
	if _, ok := s.members[id]; ok {
		return
	}
	if len(s.ring) < s.capacity {
		s.ring = append(s.ring, id)
	} else {
		delete(s.members, s.ring[s.next])
		s.ring[s.next] = id
		s.next = (s.next + 1) % s.capacity
	}
	s.members[id] = struct{}{}
}

// Contains reports whether the ID is within the window.
func (s *recencySet) Contains(id artifact.ID) bool {
	_, ok := s.members[id]
	return ok
}

// Len returns the number of IDs currently in the window.
func (s *recencySet) Len() int { return len(s.members) }
