// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ledgermesh/ledgermesh/peer"
)

// eventBuffer is the per-node event channel capacity for the in-memory
// network. Large enough that tests never stall a sender on a consumer
// that has not started reading yet.
const eventBuffer = 1024

// MemNetwork is an in-process full-mesh network. Every node that Joins
// is immediately connected to every other current member, and Send
// delivers frames synchronously into the recipient's event channel.
// It backs the dispatcher tests and any single-process simulation.
type MemNetwork struct {
	mu    sync.Mutex
	nodes map[peer.ID]*MemTransport
}

// NewMemNetwork creates an empty in-memory network.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{nodes: make(map[peer.ID]*MemTransport)}
}

// Join adds a node and connects it to every existing member. Both
// sides observe a PeerConnected event.
func (n *MemNetwork) Join(id peer.ID) *MemTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	node := &MemTransport{
		network: n,
		self:    id,
		events:  make(chan Event, eventBuffer),
	}
	for other, transport := range n.nodes {
		transport.events <- Event{Type: PeerConnected, Peer: id}
		node.events <- Event{Type: PeerConnected, Peer: other}
	}
	n.nodes[id] = node
	return node
}

// Leave removes a node. Remaining members observe PeerDisconnected.
func (n *MemNetwork) Leave(id peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	node, ok := n.nodes[id]
	if !ok {
		return
	}
	delete(n.nodes, id)
	for _, transport := range n.nodes {
		transport.events <- Event{Type: PeerDisconnected, Peer: id}
	}
	close(node.events)
}

// MemTransport is one node's endpoint on a MemNetwork.
type MemTransport struct {
	network *MemNetwork
	self    peer.ID
	events  chan Event
}

// Self returns the node's peer ID.
func (t *MemTransport) Self() peer.ID {
	return t.self
}

// Send delivers the frame into the recipient's event channel.
func (t *MemTransport) Send(_ context.Context, to peer.ID, frame []byte) error {
	t.network.mu.Lock()
	recipient, ok := t.network.nodes[to]
	if !ok {
		t.network.mu.Unlock()
		return fmt.Errorf("send to %s: %w", to, ErrPeerNotConnected)
	}
	copied := make([]byte, len(frame))
	copy(copied, frame)
	recipient.events <- Event{Type: FrameReceived, Peer: t.self, Frame: copied}
	t.network.mu.Unlock()
	return nil
}

// Events returns the node's event stream.
func (t *MemTransport) Events() <-chan Event {
	return t.events
}

// Close removes the node from the network.
func (t *MemTransport) Close() error {
	t.network.Leave(t.self)
	return nil
}
