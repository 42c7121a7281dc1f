// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgermesh/ledgermesh/peer"
)

// ErrPeerNotConnected is returned by Send when no live connection to
// the peer exists. The caller decides whether to buffer, retry, or
// fail the operation that needed the send.
var ErrPeerNotConnected = errors.New("peer not connected")

// EventType classifies a transport event.
type EventType int

const (
	// PeerConnected means an authenticated connection to the peer is
	// now live.
	PeerConnected EventType = iota + 1

	// PeerDisconnected means the connection to the peer was lost or
	// closed. Frames sent to the peer before reconnection fail with
	// ErrPeerNotConnected.
	PeerDisconnected

	// FrameReceived carries one inbound frame from the peer.
	FrameReceived
)

// String returns the event type name for logs.
func (t EventType) String() string {
	switch t {
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case FrameReceived:
		return "frame"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Event is a single transport occurrence. Frame is set only for
// FrameReceived and is owned by the receiver.
type Event struct {
	Type  EventType
	Peer  peer.ID
	Frame []byte
}

// Transport moves opaque frames between this node and its peers.
// Implementations guarantee per-peer FIFO delivery of sent frames and
// emit connection lifecycle events interleaved with inbound frames on
// a single channel, so consumers observe a consistent order.
//
// Frames are opaque here. Framing, authentication, and connection
// management live below this interface; the gossip protocol lives
// above it.
type Transport interface {
	// Self returns the local peer ID.
	Self() peer.ID

	// Send delivers one frame to the peer. It blocks until the frame
	// is handed to the connection (or buffered), ctx is cancelled, or
	// the peer is not connected.
	Send(ctx context.Context, to peer.ID, frame []byte) error

	// Events returns the event stream. Closed by Close.
	Events() <-chan Event

	// Close tears down all connections and closes the event stream.
	Close() error
}
