// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package directory

import (
	"context"
	"slices"
	"sync"

	"github.com/ledgermesh/ledgermesh/peer"
)

// EventType classifies a membership change.
type EventType int

const (
	// PeerJoined means the peer entered the authorized set.
	PeerJoined EventType = iota + 1

	// PeerLeft means the peer was removed from the authorized set.
	PeerLeft
)

// String returns the event type name for logs.
func (t EventType) String() string {
	switch t {
	case PeerJoined:
		return "joined"
	case PeerLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Event is a single membership change.
type Event struct {
	Type EventType
	Peer peer.ID
}

// Directory is the authority on which peers belong to the mesh. The
// gossip layer consults it for the current set and subscribes to
// membership changes; it never infers membership from connections.
type Directory interface {
	// Peers returns the current authorized peer set, sorted by ID.
	Peers() []peer.ID

	// Watch delivers membership events until ctx is cancelled. The
	// channel is closed on cancellation. Events carry no history:
	// callers snapshot Peers first, then apply events.
	Watch(ctx context.Context) <-chan Event
}

// Static is a Directory backed by an explicit peer set, mutated by
// Add/Remove. It serves fixed-topology deployments where membership
// comes from configuration, and tests.
type Static struct {
	mu       sync.Mutex
	members  map[peer.ID]bool
	watchers map[chan Event]bool
}

// NewStatic creates a directory with the given initial members.
func NewStatic(members ...peer.ID) *Static {
	d := &Static{
		members:  make(map[peer.ID]bool),
		watchers: make(map[chan Event]bool),
	}
	for _, id := range members {
		d.members[id] = true
	}
	return d
}

// Peers returns the current member set, sorted by ID.
func (d *Static) Peers() []peer.ID {
	d.mu.Lock()
	defer d.mu.Unlock()
	peers := make([]peer.ID, 0, len(d.members))
	for id := range d.members {
		peers = append(peers, id)
	}
	slices.Sort(peers)
	return peers
}

// Watch subscribes to membership events.
func (d *Static) Watch(ctx context.Context) <-chan Event {
	events := make(chan Event, 64)
	d.mu.Lock()
	d.watchers[events] = true
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.watchers, events)
		d.mu.Unlock()
		close(events)
	}()
	return events
}

// Add inserts a peer and notifies watchers. A no-op if already present.
func (d *Static) Add(id peer.ID) {
	d.notify(Event{Type: PeerJoined, Peer: id}, func() bool {
		if d.members[id] {
			return false
		}
		d.members[id] = true
		return true
	})
}

// Remove deletes a peer and notifies watchers. A no-op if absent.
func (d *Static) Remove(id peer.ID) {
	d.notify(Event{Type: PeerLeft, Peer: id}, func() bool {
		if !d.members[id] {
			return false
		}
		delete(d.members, id)
		return true
	})
}

// notify applies the mutation under the lock and, if it changed the
// set, fans the event out to watchers. Slow watchers lose events
// rather than block membership updates.
func (d *Static) notify(event Event, mutate func() bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !mutate() {
		return
	}
	for watcher := range d.watchers {
		select {
		case watcher <- event:
		default:
		}
	}
}
