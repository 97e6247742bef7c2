// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides seam's standard CBOR encoding configuration.
//
// Every protocol message that crosses a transport is encoded as the
// body of a binary frame (see the wire package), and every body is
// CBOR. This package holds the shared encoder and decoder modes so
// that both ends of a connection encode identically without
// duplicating configuration.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Same logical message always produces identical bytes, which keeps
// frame contents reproducible in tests and in captured traces.
//
// Wire types carry `cbor` struct tags: they are internal protocol
// messages and are never serialized as JSON.
package codec
