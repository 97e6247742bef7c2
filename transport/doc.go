// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the boundary between the seam mux and the
// secure byte stream it runs over.
//
// The [Transport] interface is what the mux consumes: an ordered
// inbound event source, an outbound message sink, and a session
// identifier derived from the secure handshake. Key exchange,
// encryption, and integrity are entirely the concern of whatever
// produces the underlying stream; the mux never sees them.
//
// Two implementations ship with the package. [FrameTransport] frames
// wire messages over any net.Conn and is the production path: hand it
// a connection that is already confidential (a TLS conn, a WebRTC
// data channel, a unix socket between trusted processes) and it does
// the rest. [Pipe] returns a connected in-process pair used by tests
// and loopback fixtures.
package transport
