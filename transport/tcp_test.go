// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
)

// startTCPNode brings up a TCP transport for the identity on a random
// port, with cleanup registered.
func startTCPNode(t *testing.T, identity testIdentity, lookup KeyLookup) *TCPTransport {
	t.Helper()
	auth := NewEd25519Authenticator(identity.privateKey, lookup)
	node, err := NewTCP(identity.id, "127.0.0.1:0", auth, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("starting transport for %s: %v", identity.id, err)
	}
	t.Cleanup(func() { node.Close() })
	return node
}

func TestTCPRoundTrip(t *testing.T) {
	alice := newTestIdentity(t, "alice")
	bob := newTestIdentity(t, "bob")
	lookup := lookupFor(alice, bob)

	aliceNode := startTCPNode(t, alice, lookup)
	bobNode := startTCPNode(t, bob, lookup)

	if err := aliceNode.Dial(context.Background(), bob.id, bobNode.Address()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	if event := recvTransportEvent(t, aliceNode.Events()); event.Type != PeerConnected || event.Peer != "bob" {
		t.Fatalf("alice saw %+v, want bob connected", event)
	}
	if event := recvTransportEvent(t, bobNode.Events()); event.Type != PeerConnected || event.Peer != "alice" {
		t.Fatalf("bob saw %+v, want alice connected", event)
	}

	// Frames flow both directions after the handshake.
	out := []byte("advert from alice")
	if err := aliceNode.Send(context.Background(), "bob", out); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	event := recvTransportEvent(t, bobNode.Events())
	if event.Type != FrameReceived || event.Peer != "alice" || !bytes.Equal(event.Frame, out) {
		t.Fatalf("bob saw %+v, want frame %q from alice", event, out)
	}

	reply := []byte("request from bob")
	if err := bobNode.Send(context.Background(), "alice", reply); err != nil {
		t.Fatalf("reply Send failed: %v", err)
	}
	event = recvTransportEvent(t, aliceNode.Events())
	if event.Type != FrameReceived || !bytes.Equal(event.Frame, reply) {
		t.Fatalf("alice saw %+v, want frame %q", event, reply)
	}
}

func TestTCPFrameOrdering(t *testing.T) {
	alice := newTestIdentity(t, "alice")
	bob := newTestIdentity(t, "bob")
	lookup := lookupFor(alice, bob)

	aliceNode := startTCPNode(t, alice, lookup)
	bobNode := startTCPNode(t, bob, lookup)
	if err := aliceNode.Dial(context.Background(), bob.id, bobNode.Address()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	recvTransportEvent(t, aliceNode.Events()) // connected
	recvTransportEvent(t, bobNode.Events())   // connected

	const frames = 50
	for i := 0; i < frames; i++ {
		if err := aliceNode.Send(context.Background(), "bob", []byte{byte(i)}); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}
	for i := 0; i < frames; i++ {
		event := recvTransportEvent(t, bobNode.Events())
		if event.Type != FrameReceived || len(event.Frame) != 1 || event.Frame[0] != byte(i) {
			t.Fatalf("frame %d: got %+v, want ordered single byte", i, event)
		}
	}
}

func TestTCPRejectsUnknownPeer(t *testing.T) {
	alice := newTestIdentity(t, "alice")
	stranger := newTestIdentity(t, "stranger")

	// Alice only knows herself; the stranger dials in and must be
	// turned away at authentication.
	aliceNode := startTCPNode(t, alice, lookupFor(alice))
	strangerNode := startTCPNode(t, stranger, lookupFor(alice, stranger))

	err := strangerNode.Dial(context.Background(), alice.id, aliceNode.Address())
	if err == nil {
		t.Fatal("unauthorized peer completed the handshake")
	}

	select {
	case event := <-aliceNode.Events():
		t.Fatalf("alice emitted %+v for an unauthenticated peer", event)
	default:
	}
}

func TestTCPDisconnectEvent(t *testing.T) {
	alice := newTestIdentity(t, "alice")
	bob := newTestIdentity(t, "bob")
	lookup := lookupFor(alice, bob)

	aliceNode := startTCPNode(t, alice, lookup)
	bobNode := startTCPNode(t, bob, lookup)
	if err := aliceNode.Dial(context.Background(), bob.id, bobNode.Address()); err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	recvTransportEvent(t, aliceNode.Events()) // connected
	recvTransportEvent(t, bobNode.Events())   // connected

	bobNode.Close()

	event := recvTransportEvent(t, aliceNode.Events())
	if event.Type != PeerDisconnected || event.Peer != "bob" {
		t.Fatalf("alice saw %+v, want bob disconnected", event)
	}
}
