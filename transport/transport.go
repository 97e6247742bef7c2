// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"

	"github.com/bureau-foundation/seam/wire"
)

// ErrClosed is returned by Send on a transport that has been closed,
// locally or by the peer.
var ErrClosed = errors.New("transport: closed")

// Transport is the secure byte stream a seam session multiplexes
// over. Implementations own connection establishment, encryption, and
// wire serialization; the mux only ever exchanges wire messages
// through this interface.
type Transport interface {
	// Events returns the inbound event stream. Delivery order matches
	// the peer's send order. The channel is closed when the transport
	// terminates, for any reason; Err reports the cause afterward.
	Events() <-chan wire.Event

	// Send transmits one message to the peer. It may block for
	// backpressure. After the transport terminates it returns
	// ErrClosed or the underlying write error.
	Send(message wire.Message) error

	// SessionID returns the identifier of this connection, derived
	// from the secure handshake. Both ends observe the same value.
	// Public-key authentication signs it to bind credentials to the
	// connection.
	SessionID() []byte

	// Err returns the terminal error after Events has been closed:
	// nil for an orderly local close or clean peer shutdown, the
	// underlying failure otherwise. Before Events closes the result
	// is undefined.
	Err() error

	// Close terminates the transport. Idempotent.
	Close() error
}
