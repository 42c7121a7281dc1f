// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/ledgermesh/ledgermesh/peer"
)

// authNonceSize is the size of the random challenge nonce in bytes.
const authNonceSize = 32

// authSignatureSize is the size of an Ed25519 signature in bytes.
const authSignatureSize = 64

// Authenticator provides cryptographic identity verification for peer
// connections. Every new connection must complete a mutual
// challenge-response handshake before frames are accepted: both peers
// exchange random nonces, sign each other's nonce bound to the
// challenger's ID, and verify the signatures against the peer's
// published public key.
type Authenticator interface {
	// Sign signs the message with the local Ed25519 private key.
	Sign(message []byte) []byte

	// VerifyPeer verifies that signature is a valid signature of
	// message by the named peer. Returns an error if the peer's
	// public key is unknown or the signature is invalid.
	VerifyPeer(id peer.ID, message, signature []byte) error
}

// KeyLookup resolves a peer's Ed25519 public key, typically from the
// directory configuration. The second return is false for unknown
// peers.
type KeyLookup func(id peer.ID) (ed25519.PublicKey, bool)

// Ed25519Authenticator is the standard Authenticator: it signs with a
// static private key and verifies against keys from a KeyLookup.
type Ed25519Authenticator struct {
	privateKey ed25519.PrivateKey
	lookup     KeyLookup
}

// NewEd25519Authenticator creates an authenticator from the local
// private key and a public-key lookup.
func NewEd25519Authenticator(privateKey ed25519.PrivateKey, lookup KeyLookup) *Ed25519Authenticator {
	return &Ed25519Authenticator{privateKey: privateKey, lookup: lookup}
}

// Sign signs the message with the local private key.
func (a *Ed25519Authenticator) Sign(message []byte) []byte {
	return ed25519.Sign(a.privateKey, message)
}

// VerifyPeer verifies the signature against the peer's published key.
func (a *Ed25519Authenticator) VerifyPeer(id peer.ID, message, signature []byte) error {
	publicKey, ok := a.lookup(id)
	if !ok {
		return fmt.Errorf("no public key known for peer %s", id)
	}
	if !ed25519.Verify(publicKey, message, signature) {
		return fmt.Errorf("invalid signature from peer %s", id)
	}
	return nil
}

// runPeerAuth executes the mutual authentication protocol on a fresh
// connection. Both peers run this function simultaneously. The
// protocol is:
//
//  1. Send a 32-byte random nonce
//  2. Read the peer's 32-byte nonce
//  3. Sign (peerNonce || peerID), binding the response to the
//     specific challenger's identity
//  4. Send the 64-byte Ed25519 signature
//  5. Read the peer's 64-byte signature
//  6. Verify it against (ownNonce || ownID) using the peer's key
//
// The ID binding in step 3 prevents a valid signature for peer A from
// being replayed to authenticate against peer B.
//
// Writes run on a background goroutine so the protocol cannot
// deadlock on synchronous channels (such as net.Pipe), where Write
// blocks until the peer Reads. The caller closes the connection after
// this returns.
func runPeerAuth(conn io.ReadWriter, authenticator Authenticator, self, remote peer.ID) error {
	nonce := make([]byte, authNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generating auth nonce: %w", err)
	}

	// Background writer: sends our nonce, then the signature once the
	// main goroutine has computed it.
	writeErrors := make(chan error, 1)
	signatureToSend := make(chan []byte, 1)
	go func() {
		if _, err := conn.Write(nonce); err != nil {
			writeErrors <- fmt.Errorf("sending auth nonce: %w", err)
			return
		}
		signature, ok := <-signatureToSend
		if !ok {
			return
		}
		if _, err := conn.Write(signature); err != nil {
			writeErrors <- fmt.Errorf("sending auth signature: %w", err)
			return
		}
		writeErrors <- nil
	}()

	peerNonce := make([]byte, authNonceSize)
	if _, err := io.ReadFull(conn, peerNonce); err != nil {
		close(signatureToSend)
		return fmt.Errorf("reading peer nonce: %w", err)
	}

	// Sign (peerNonce || remote): "I am responding to this challenge
	// from the peer that claims to be <remote>."
	signedMessage := make([]byte, 0, authNonceSize+len(remote))
	signedMessage = append(signedMessage, peerNonce...)
	signedMessage = append(signedMessage, remote...)
	signatureToSend <- authenticator.Sign(signedMessage)

	peerSignature := make([]byte, authSignatureSize)
	if _, err := io.ReadFull(conn, peerSignature); err != nil {
		return fmt.Errorf("reading peer signature: %w", err)
	}

	if err := <-writeErrors; err != nil {
		return err
	}

	// The peer must have signed OUR nonce bound to OUR identity.
	verifyMessage := make([]byte, 0, authNonceSize+len(self))
	verifyMessage = append(verifyMessage, nonce...)
	verifyMessage = append(verifyMessage, self...)
	if err := authenticator.VerifyPeer(remote, verifyMessage, peerSignature); err != nil {
		return fmt.Errorf("peer %s failed authentication: %w", remote, err)
	}
	return nil
}
