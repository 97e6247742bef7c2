// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"crypto/rand"
	"sync"

	"github.com/bureau-foundation/seam/wire"
)

// pipeBufferSize is the per-direction event buffer of a Pipe pair.
const pipeBufferSize = 64

// Compile-time interface check.
var _ Transport = (*PipeTransport)(nil)

// PipeTransport is one end of an in-process transport pair created by
// Pipe. Messages sent on one end arrive, in order, as events on the
// other. It stands in for a real secure transport in tests and
// loopback fixtures, the way an in-memory double replaces network
// signaling.
type PipeTransport struct {
	sessionID []byte
	peer      *PipeTransport

	// raw receives messages from the peer's Send; the pump goroutine
	// moves them to out so that termination can close out safely.
	raw chan wire.Event
	out chan wire.Event

	// done is shared by both ends: closing either end terminates the
	// pair, like tearing down a single underlying connection.
	done     chan struct{}
	doneOnce *sync.Once
}

// Pipe returns two connected in-process transports. Both ends report
// the same session identifier. Closing either end terminates the
// pair; Err is nil on both ends afterward (an orderly close, not a
// failure).
func Pipe() (*PipeTransport, *PipeTransport) {
	sessionID := make([]byte, sessionNonceSize)
	if _, err := rand.Read(sessionID); err != nil {
		panic("transport: generating pipe session id: " + err.Error())
	}

	done := make(chan struct{})
	once := &sync.Once{}
	a := &PipeTransport{
		sessionID: sessionID,
		raw:       make(chan wire.Event),
		out:       make(chan wire.Event, pipeBufferSize),
		done:      done,
		doneOnce:  once,
	}
	b := &PipeTransport{
		sessionID: sessionID,
		raw:       make(chan wire.Event),
		out:       make(chan wire.Event, pipeBufferSize),
		done:      done,
		doneOnce:  once,
	}
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()
	return a, b
}

// pump moves inbound messages to the public event channel and closes
// it on termination. Sends never touch out directly, so closing it
// here cannot race a send.
func (t *PipeTransport) pump() {
	defer close(t.out)
	for {
		select {
		case message := <-t.raw:
			select {
			case t.out <- message:
			case <-t.done:
				return
			}
		case <-t.done:
			return
		}
	}
}

// Events returns the inbound event stream.
func (t *PipeTransport) Events() <-chan wire.Event { return t.out }

// Send delivers one message to the peer end.
func (t *PipeTransport) Send(message wire.Message) error {
	select {
	case t.peer.raw <- message:
		return nil
	case <-t.done:
		return ErrClosed
	}
}

// SessionID returns the pair's shared session identifier.
func (t *PipeTransport) SessionID() []byte { return t.sessionID }

// Err always reports nil: a pipe terminates only by Close, which is
// orderly by definition.
func (t *PipeTransport) Err() error { return nil }

// Close terminates both ends of the pair. Idempotent.
func (t *PipeTransport) Close() error {
	t.doneOnce.Do(func() { close(t.done) })
	return nil
}
