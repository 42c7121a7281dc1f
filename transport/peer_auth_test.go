// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"crypto/ed25519"
	"net"
	"strings"
	"testing"

	"github.com/ledgermesh/ledgermesh/peer"
)

// testIdentity bundles a peer ID with a fresh Ed25519 key pair.
type testIdentity struct {
	id         peer.ID
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
}

func newTestIdentity(t *testing.T, id peer.ID) testIdentity {
	t.Helper()
	publicKey, privateKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return testIdentity{id: id, publicKey: publicKey, privateKey: privateKey}
}

// lookupFor builds a KeyLookup over the given identities.
func lookupFor(identities ...testIdentity) KeyLookup {
	keys := make(map[peer.ID]ed25519.PublicKey)
	for _, identity := range identities {
		keys[identity.id] = identity.publicKey
	}
	return func(id peer.ID) (ed25519.PublicKey, bool) {
		key, ok := keys[id]
		return key, ok
	}
}

func TestPeerAuthMutualSuccess(t *testing.T) {
	alice := newTestIdentity(t, "alice")
	bob := newTestIdentity(t, "bob")
	lookup := lookupFor(alice, bob)

	aliceConn, bobConn := net.Pipe()
	defer aliceConn.Close()
	defer bobConn.Close()

	errs := make(chan error, 2)
	go func() {
		errs <- runPeerAuth(aliceConn, NewEd25519Authenticator(alice.privateKey, lookup), alice.id, bob.id)
	}()
	go func() {
		errs <- runPeerAuth(bobConn, NewEd25519Authenticator(bob.privateKey, lookup), bob.id, alice.id)
	}()
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("mutual auth failed: %v", err)
		}
	}
}

func TestPeerAuthWrongKeyRejected(t *testing.T) {
	alice := newTestIdentity(t, "alice")
	bob := newTestIdentity(t, "bob")
	impostor := newTestIdentity(t, "bob") // claims bob's ID, different key

	// Alice knows the real bob's public key; the impostor signs with
	// its own key.
	lookup := lookupFor(alice, bob)

	aliceConn, impostorConn := net.Pipe()
	defer aliceConn.Close()
	defer impostorConn.Close()

	aliceResult := make(chan error, 1)
	go func() {
		aliceResult <- runPeerAuth(aliceConn, NewEd25519Authenticator(alice.privateKey, lookup), alice.id, "bob")
	}()
	// The impostor runs the protocol honestly, just with the wrong key.
	impostorLookup := lookupFor(alice, impostor)
	go runPeerAuth(impostorConn, NewEd25519Authenticator(impostor.privateKey, impostorLookup), "bob", alice.id)

	err := <-aliceResult
	if err == nil {
		t.Fatal("alice accepted a signature from the wrong key")
	}
	if !strings.Contains(err.Error(), "failed authentication") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPeerAuthUnknownPeerRejected(t *testing.T) {
	alice := newTestIdentity(t, "alice")
	stranger := newTestIdentity(t, "stranger")

	// Alice's lookup has no entry for the stranger.
	lookup := lookupFor(alice)

	aliceConn, strangerConn := net.Pipe()
	defer aliceConn.Close()
	defer strangerConn.Close()

	aliceResult := make(chan error, 1)
	go func() {
		aliceResult <- runPeerAuth(aliceConn, NewEd25519Authenticator(alice.privateKey, lookup), alice.id, stranger.id)
	}()
	go runPeerAuth(strangerConn, NewEd25519Authenticator(stranger.privateKey, lookupFor(alice, stranger)), stranger.id, alice.id)

	if err := <-aliceResult; err == nil {
		t.Fatal("alice accepted a peer with no published key")
	}
}

func TestPeerAuthSignatureNotReplayable(t *testing.T) {
	// A signature alice produced when challenged by bob must not
	// verify as a response to carol's challenge, even over the same
	// nonce, because the challenger's ID is bound into the message.
	alice := newTestIdentity(t, "alice")
	auth := NewEd25519Authenticator(alice.privateKey, lookupFor(alice))

	nonce := make([]byte, authNonceSize)
	forBob := append(append([]byte{}, nonce...), []byte("bob")...)
	signature := auth.Sign(forBob)

	verifier := NewEd25519Authenticator(nil, lookupFor(alice))
	forCarol := append(append([]byte{}, nonce...), []byte("carol")...)
	if err := verifier.VerifyPeer(alice.id, forCarol, signature); err == nil {
		t.Fatal("signature bound to bob verified against carol's challenge")
	}
	if err := verifier.VerifyPeer(alice.id, forBob, signature); err != nil {
		t.Fatalf("legitimate signature rejected: %v", err)
	}
}
