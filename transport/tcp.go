// Copyright 2026 The Ledgermesh Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ledgermesh/ledgermesh/peer"
)

// maxFrameSize bounds a single frame on the wire. Larger than any
// artifact payload frame the protocol produces; a peer announcing more
// is misbehaving and gets disconnected.
const maxFrameSize = 72 << 20

// handshakeTimeout bounds the hello exchange plus mutual
// authentication on a new connection.
const handshakeTimeout = 10 * time.Second

// TCPTransport is the production Transport: one long-lived TCP
// connection per peer, carrying length-prefixed frames after a mutual
// Ed25519 handshake. It accepts inbound connections on its listener
// and dials outbound via Dial; when both sides race to connect, the
// connection initiated by the lexicographically smaller peer ID wins.
type TCPTransport struct {
	self          peer.ID
	authenticator Authenticator
	listener      net.Listener
	logger        *slog.Logger

	events chan Event

	mu     sync.Mutex
	conns  map[peer.ID]*tcpConn
	closed bool

	wg sync.WaitGroup
}

type tcpConn struct {
	peer    peer.ID
	conn    net.Conn
	writeMu sync.Mutex
	dialed  bool // true if we initiated this connection
}

// NewTCP creates a TCP transport listening on address. Use ":0" for a
// random port in tests.
func NewTCP(self peer.ID, address string, authenticator Authenticator, logger *slog.Logger) (*TCPTransport, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	t := &TCPTransport{
		self:          self,
		authenticator: authenticator,
		listener:      listener,
		logger:        logger,
		events:        make(chan Event, eventBuffer),
		conns:         make(map[peer.ID]*tcpConn),
	}
	t.wg.Add(1)
	go t.acceptLoop()
	return t, nil
}

// Self returns the local peer ID.
func (t *TCPTransport) Self() peer.ID {
	return t.self
}

// Address returns the listener address in host:port form.
func (t *TCPTransport) Address() string {
	return t.listener.Addr().String()
}

func (t *TCPTransport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if err := t.handshake(conn, false); err != nil {
				t.logger.Warn("inbound handshake failed",
					"remote_addr", conn.RemoteAddr().String(),
					"error", err)
				conn.Close()
			}
		}()
	}
}

// Dial connects to a peer at the given address and runs the handshake.
// A no-op if a connection to the peer already exists.
func (t *TCPTransport) Dial(ctx context.Context, id peer.ID, address string) error {
	t.mu.Lock()
	_, exists := t.conns[id]
	t.mu.Unlock()
	if exists {
		return nil
	}

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("dialing %s at %s: %w", id, address, err)
	}
	if err := t.handshake(conn, true); err != nil {
		conn.Close()
		return fmt.Errorf("handshake with %s: %w", id, err)
	}
	return nil
}

// handshake runs the hello exchange and mutual authentication, then
// registers the connection and starts its read loop. The hello is the
// local peer ID as a length-prefixed frame; authentication binds the
// connection to the claimed identities.
func (t *TCPTransport) handshake(conn net.Conn, dialed bool) error {
	deadline := time.Now().Add(handshakeTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	// Hello exchange. Writes go through a goroutine for the same
	// reason as in runPeerAuth.
	helloErr := make(chan error, 1)
	go func() {
		helloErr <- writeFrame(conn, []byte(t.self))
	}()
	hello, err := readFrame(conn, peer.MaxIDLength)
	if err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if err := <-helloErr; err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}
	remote := peer.ID(hello)
	if err := remote.Validate(); err != nil {
		return fmt.Errorf("invalid hello: %w", err)
	}
	if remote == t.self {
		return errors.New("peer claims our own identity")
	}

	if err := runPeerAuth(conn, t.authenticator, t.self, remote); err != nil {
		return err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return err
	}

	entry := &tcpConn{peer: remote, conn: conn, dialed: dialed}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("transport closed")
	}
	if existing, ok := t.conns[remote]; ok {
		// Simultaneous connect: both sides keep the connection dialed
		// by the smaller peer ID so they agree on which one to drop.
		keepDialed := t.self < remote
		if entry.dialed == keepDialed {
			existing.conn.Close()
		} else {
			t.mu.Unlock()
			return errors.New("duplicate connection, keeping existing")
		}
	}
	t.conns[remote] = entry
	t.mu.Unlock()

	t.events <- Event{Type: PeerConnected, Peer: remote}
	t.wg.Add(1)
	go t.readLoop(entry)
	return nil
}

func (t *TCPTransport) readLoop(entry *tcpConn) {
	defer t.wg.Done()
	for {
		frame, err := readFrame(entry.conn, maxFrameSize)
		if err != nil {
			t.dropConn(entry, err)
			return
		}
		t.events <- Event{Type: FrameReceived, Peer: entry.peer, Frame: frame}
	}
}

// dropConn unregisters a dead connection and emits PeerDisconnected,
// unless the connection was already replaced by a newer one.
func (t *TCPTransport) dropConn(entry *tcpConn, cause error) {
	entry.conn.Close()

	t.mu.Lock()
	current, ok := t.conns[entry.peer]
	replaced := !ok || current != entry
	if !replaced {
		delete(t.conns, entry.peer)
	}
	closed := t.closed
	t.mu.Unlock()

	if replaced || closed {
		return
	}
	if !errors.Is(cause, io.EOF) && !errors.Is(cause, net.ErrClosed) {
		t.logger.Warn("peer connection lost", "peer", entry.peer, "error", cause)
	}
	t.events <- Event{Type: PeerDisconnected, Peer: entry.peer}
}

// Send writes one frame to the peer's connection. Writes to the same
// peer serialize on a per-connection mutex.
func (t *TCPTransport) Send(ctx context.Context, to peer.ID, frame []byte) error {
	t.mu.Lock()
	entry, ok := t.conns[to]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("send to %s: %w", to, ErrPeerNotConnected)
	}

	if deadline, ok := ctx.Deadline(); ok {
		entry.conn.SetWriteDeadline(deadline)
	}
	entry.writeMu.Lock()
	err := writeFrame(entry.conn, frame)
	entry.writeMu.Unlock()
	if err != nil {
		t.dropConn(entry, err)
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// Events returns the event stream.
func (t *TCPTransport) Events() <-chan Event {
	return t.events
}

// Close stops the listener, closes every connection, and closes the
// event stream once all loops have exited.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*tcpConn, 0, len(t.conns))
	for _, entry := range t.conns {
		conns = append(conns, entry)
	}
	t.mu.Unlock()

	err := t.listener.Close()
	for _, entry := range conns {
		entry.conn.Close()
	}
	t.wg.Wait()
	close(t.events)
	return err
}

// writeFrame writes a 4-byte big-endian length prefix followed by the
// frame bytes as a single Write, so concurrent writers never
// interleave partial frames.
func writeFrame(w io.Writer, frame []byte) error {
	buf := make([]byte, 4+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[4:], frame)
	_, err := w.Write(buf)
	return err
}

// readFrame reads one length-prefixed frame, rejecting lengths above
// limit.
func readFrame(r io.Reader, limit uint32) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > limit {
		return nil, fmt.Errorf("frame length %d exceeds limit %d", length, limit)
	}
	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
