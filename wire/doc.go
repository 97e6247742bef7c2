// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the protocol vocabulary exchanged between a
// seam session and its remote peer, and the frame codec that carries
// it over a byte stream.
//
// The vocabulary is the single translation boundary of the system:
// every inbound event and every outbound request is one of the
// message types in this package, and nothing transport-specific ever
// crosses it. The mux package consumes these types through the
// transport abstraction; concrete transports produce and serialize
// them.
//
// The same vocabulary serves both directions. Several messages (data,
// EOF, close, window adjust, disconnect) legitimately flow both ways,
// and a server-side endpoint sees the client's outbound set as its
// inbound events, so there is one closed set of types rather than two
// mirrored ones.
//
// Frame format (frame.go): a 5-byte header (1 byte message type plus
// a 4-byte big-endian body length) followed by a CBOR-encoded body
// (lib/codec). The frame layer assumes the underlying stream is
// already confidential and authenticated; encryption and integrity
// belong to the secure transport beneath it.
package wire
