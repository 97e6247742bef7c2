// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/seam/wire"
)

// sessionNonceSize is the size of the random nonce each end
// contributes to the session identifier.
const sessionNonceSize = 16

// eventBufferSize is the capacity of the inbound event channel. A
// small buffer decouples the reader goroutine from the dispatcher
// without hiding sustained backpressure.
const eventBufferSize = 32

// Compile-time interface check.
var _ Transport = (*FrameTransport)(nil)

// FrameTransport frames wire messages over a net.Conn. The conn must
// already be confidential and integrity-protected (TLS, a WebRTC data
// channel, a unix socket between trusted processes): FrameTransport
// adds multiplexable message framing, not security.
//
// On construction both ends exchange random nonces and derive the
// session identifier by hashing them, so signatures made over
// SessionID are bound to this specific connection.
type FrameTransport struct {
	conn      net.Conn
	sessionID []byte

	events chan wire.Event
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error

	// writeMu serializes frames from concurrent Send callers.
	writeMu sync.Mutex

	errMu sync.Mutex
	err   error
}

// NewFrameTransport performs the nonce exchange on conn and starts
// the reader. It takes ownership of conn: closing the transport
// closes the connection.
func NewFrameTransport(conn net.Conn) (*FrameTransport, error) {
	localNonce := make([]byte, sessionNonceSize)
	if _, err := rand.Read(localNonce); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: generating session nonce: %w", err)
	}

	// Write and read concurrently: on synchronous conns (net.Pipe,
	// unbuffered sockets) both ends write first, and a sequential
	// write-then-read would deadlock.
	writeResult := make(chan error, 1)
	go func() {
		_, err := conn.Write(localNonce)
		writeResult <- err
	}()
	peerNonce := make([]byte, sessionNonceSize)
	if _, err := io.ReadFull(conn, peerNonce); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: reading peer session nonce: %w", err)
	}
	if err := <-writeResult; err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: writing session nonce: %w", err)
	}

	// Both ends hash the nonces in lexicographic order so they derive
	// the same identifier regardless of which side they are.
	first, second := localNonce, peerNonce
	if bytes.Compare(first, second) > 0 {
		first, second = second, first
	}
	sum := blake3.Sum256(append(append([]byte{}, first...), second...))

	t := &FrameTransport{
		conn:      conn,
		sessionID: sum[:],
		events:    make(chan wire.Event, eventBufferSize),
		done:      make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// readLoop decodes frames into the event channel until the stream
// ends, then records the terminal cause and closes the channel.
func (t *FrameTransport) readLoop() {
	defer close(t.events)
	for {
		message, err := wire.ReadFrame(t.conn)
		if err != nil {
			t.setErr(err)
			return
		}
		select {
		case t.events <- message:
		case <-t.done:
			return
		}
	}
}

// setErr records the terminal receive error. A clean peer EOF and a
// read failure caused by our own Close both count as orderly
// termination, not errors.
func (t *FrameTransport) setErr(err error) {
	if err == io.EOF {
		err = nil
	}
	select {
	case <-t.done:
		err = nil
	default:
	}
	t.errMu.Lock()
	t.err = err
	t.errMu.Unlock()
}

// Events returns the inbound event stream.
func (t *FrameTransport) Events() <-chan wire.Event { return t.events }

// Send writes one framed message to the connection.
func (t *FrameTransport) Send(message wire.Message) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := wire.WriteFrame(t.conn, message); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	return nil
}

// SessionID returns the connection identifier derived from the nonce
// exchange.
func (t *FrameTransport) SessionID() []byte { return t.sessionID }

// Err reports the terminal cause after Events has closed.
func (t *FrameTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

// Close terminates the transport and closes the connection.
// Idempotent.
func (t *FrameTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
