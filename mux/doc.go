// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mux multiplexes independent remote command executions over
// one authenticated transport connection.
//
// A [Session] owns a single [transport.Transport]. After
// authenticating with [Session.Authenticate], callers run remote
// commands with [Session.OpenExec]; each returns a [Channel], an
// io.ReadWriter carrying the command's stdin and stdout, with stderr
// on a side stream and an eventual exit status. Any number of
// channels share the connection concurrently.
//
// All session and channel state is owned by a single dispatcher
// goroutine. Caller-facing operations are submitted to it as small
// closures; blocking operations (reads on an empty buffer, writes
// waiting for window, exit-status waits, opens in flight) are parked
// inside the dispatcher with buffered reply channels keyed to their
// resumption condition. The dispatcher resumes them as inbound events
// arrive and flushes window-permitted outbound data after every state
// change. There are no locks in the core, and an abandoned caller can
// never block the loop.
//
// Flow control is credit-based in both directions: the peer may send
// only as many bytes as the session has granted, and the session
// replenishes the grant as the caller consumes buffered data. Writes
// never exceed the peer's grant and block until transmitted, so
// backpressure propagates end to end.
//
// Session or transport failure resolves every pending operation
// promptly; nothing is left suspended. The package has no timeout
// mechanism; cancellation is the caller's concern via the contexts
// accepted on blocking operations.
package mux
