// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/bureau-foundation/seam/wire"
)

// Channel is one remote command execution multiplexed over a session.
// It is an io.ReadWriter: Read delivers the command's stdout, Write
// feeds its stdin, Stderr exposes the side stream, and ExitStatus
// reports how the command ended. The caller's handle is a view; the
// state itself is owned by the session and mutated only on its
// dispatcher goroutine.
//
// Lifecycle: a channel starts opening, becomes open when the peer
// confirms, half-closes per direction as EOF is sent or received, and
// is closed once both directions have ended or a close arrives. After
// both EOFs the channel sends its close and waits for the peer's:
// the exit status legitimately trails the data stream, so final
// events are still accepted until the peer closes. Transitions only
// move forward.
type Channel struct {
	session  *Session
	localID  uint32
	remoteID uint32

	// Dispatcher-owned state below.

	// initialWindow is our grant to the peer; localWindow is what
	// remains of it; consumed counts caller-drained bytes not yet
	// re-granted. remoteWindow and remotePacket are the peer's grant
	// and payload ceiling for the outbound direction.
	initialWindow uint32
	localWindow   uint32
	consumed      uint32
	remoteWindow  uint32
	remotePacket  uint32

	stdout stream
	stderr stream

	// writers is the outbound queue: each entry is one Write call,
	// flushed in order as window permits, its caller parked until its
	// bytes are all on the transport.
	writers    []*writeRequest
	eofQueued  bool
	eofSent    bool
	eofWaiters []chan error

	eofReceived bool
	closeSent   bool
	closed      bool

	exitWaiters []chan exitResult

	// exitOutcome caches the resolved exit result so ExitStatus is
	// idempotent. Callers may also read it after the session's done
	// channel closes; the close is the ordering edge.
	exitOutcome *exitResult

	// terminal is set when the session tears down under this channel:
	// operations that would otherwise park resolve with it instead.
	terminal error
}

// stream is a buffered inbound byte stream: dispatcher appends,
// reader drains through a cursor, parked readers wait their turn in
// FIFO order.
type stream struct {
	data    []byte
	start   int
	eof     bool
	waiters []*readRequest
}

// buffered returns the number of unconsumed bytes.
func (st *stream) buffered() int { return len(st.data) - st.start }

type readResult struct {
	n   int
	err error
}

type readRequest struct {
	p     []byte
	reply chan readResult
}

type writeResult struct {
	n   int
	err error
}

type writeRequest struct {
	data    []byte
	written int
	reply   chan writeResult
}

type exitResult struct {
	status int
	err    error
}

func newChannel(s *Session, localID, remoteID, remoteWindow, remotePacket uint32) *Channel {
	if remotePacket == 0 {
		remotePacket = defaultMaxPacket
	}
	return &Channel{
		session:       s,
		localID:       localID,
		remoteID:      remoteID,
		initialWindow: s.initialWindow,
		localWindow:   s.initialWindow,
		remoteWindow:  remoteWindow,
		remotePacket:  remotePacket,
	}
}

// LocalID returns the session-local channel id.
func (c *Channel) LocalID() uint32 { return c.localID }

// Read delivers the remote command's stdout in the order it arrived.
// It blocks while no data is buffered and the peer has not signalled
// EOF, and returns io.EOF once the stream has ended and the buffer is
// drained.
func (c *Channel) Read(p []byte) (int, error) {
	return c.readStream(false, p)
}

// Stderr returns the reader for the command's stderr stream. Same
// contract as Read; bytes on either stream consume the same
// flow-control window.
func (c *Channel) Stderr() io.Reader { return stderrReader{channel: c} }

type stderrReader struct {
	channel *Channel
}

func (r stderrReader) Read(p []byte) (int, error) {
	return r.channel.readStream(true, p)
}

func (c *Channel) readStream(fromStderr bool, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	request := &readRequest{p: p, reply: make(chan readResult, 1)}
	if err := c.session.do(func() { c.readOp(fromStderr, request) }); err != nil {
		return 0, err
	}
	result := <-request.reply
	return result.n, result.err
}

// readOp runs on the dispatcher: serve immediately or park.
func (c *Channel) readOp(fromStderr bool, request *readRequest) {
	st := &c.stdout
	if fromStderr {
		st = &c.stderr
	}
	if !c.serveRead(st, request) {
		st.waiters = append(st.waiters, request)
	}
}

// serveRead resolves one read request if its resumption condition
// holds: buffered data, stream EOF, or session teardown. Reports
// whether the request was resolved.
func (c *Channel) serveRead(st *stream, request *readRequest) bool {
	if st.buffered() > 0 {
		n := copy(request.p, st.data[st.start:])
		st.start += n
		if st.start == len(st.data) {
			// Reset instead of reslicing forward so the backing array
			// is reused by later appends.
			st.data = st.data[:0]
			st.start = 0
		}
		request.reply <- readResult{n: n}
		// The adjust may hit a broken transport and tear the session
		// down, so it runs only after the reply is delivered.
		c.noteConsumed(uint32(n))
		return true
	}
	if st.eof {
		request.reply <- readResult{err: io.EOF}
		return true
	}
	if c.terminal != nil {
		request.reply <- readResult{err: c.terminal}
		return true
	}
	return false
}

// serveWaiters resolves parked readers in FIFO order for as long as
// conditions allow. Each waiter is popped before it is served: serving
// can reach teardown (a failed window adjust), which re-enters this
// loop, and the in-flight waiter must not be visible to it.
func (c *Channel) serveWaiters(st *stream) {
	for len(st.waiters) > 0 {
		request := st.waiters[0]
		st.waiters = st.waiters[1:]
		if !c.serveRead(st, request) {
			st.waiters = append([]*readRequest{request}, st.waiters...)
			return
		}
	}
}

// noteConsumed replenishes the peer's window once the caller has
// drained more than half the initial grant. Adjusting on consumption
// rather than receipt bounds buffered-plus-granted bytes to the
// initial window, and the half threshold bounds adjust frequency.
func (c *Channel) noteConsumed(n uint32) {
	c.consumed += n
	if c.eofReceived || c.closed || c.session.torn {
		return
	}
	if c.consumed > c.initialWindow/2 {
		additional := c.consumed
		c.consumed = 0
		c.localWindow += additional
		c.session.send(&wire.ChannelWindowAdjust{RecipientID: c.remoteID, Additional: additional})
	}
}

// handleData appends inbound payload bytes to st. Data beyond the
// granted window is a protocol violation, fatal to the session.
func (c *Channel) handleData(st *stream, data []byte) {
	if len(data) == 0 {
		return
	}
	if c.eofReceived || c.closed {
		c.session.logger.Debug("discarding data after EOF", "channel_id", c.localID, "bytes", len(data))
		return
	}
	if uint32(len(data)) > c.localWindow {
		c.session.failProtocol(fmt.Errorf("channel %d: peer sent %d bytes against a window of %d: %w",
			c.localID, len(data), c.localWindow, ErrWindowViolation))
		return
	}
	c.localWindow -= uint32(len(data))
	st.data = append(st.data, data...)
	c.serveWaiters(st)
}

// handleEOF ends the inbound direction: parked and future reads drain
// the buffer and then see io.EOF, on both streams.
func (c *Channel) handleEOF() {
	if c.eofReceived {
		c.session.logger.Debug("discarding duplicate EOF", "channel_id", c.localID)
		return
	}
	c.eofReceived = true
	c.stdout.eof = true
	c.stderr.eof = true
	c.serveWaiters(&c.stdout)
	c.serveWaiters(&c.stderr)
	c.maybeCloseAfterEOF()
}

// handleExitStatus resolves exit-status waiters. The status is set at
// most once; duplicates are discarded.
func (c *Channel) handleExitStatus(status uint32) {
	if c.exitOutcome != nil {
		c.session.logger.Debug("discarding duplicate exit status", "channel_id", c.localID)
		return
	}
	outcome := exitResult{status: int(status)}
	c.exitOutcome = &outcome
	for _, waiter := range c.exitWaiters {
		waiter <- outcome
	}
	c.exitWaiters = nil
}

// handleWindowAdjust grows the outbound budget. Overflowing the
// window counter is a protocol violation.
func (c *Channel) handleWindowAdjust(additional uint32) {
	if additional > math.MaxUint32-c.remoteWindow {
		c.session.failProtocol(fmt.Errorf("channel %d: window adjust overflows grant: %w",
			c.localID, ErrWindowViolation))
		return
	}
	c.remoteWindow += additional
}

// handleClose completes the close handshake: answer with our close if
// it is still outstanding, resolve everything, and deregister so
// trailing events for this id fall into the benign-race discard path.
func (c *Channel) handleClose() {
	c.sendClose()
	c.markClosed(nil)
	delete(c.session.channels, c.localID)
}

// Write queues p for transmission and blocks until every byte has
// been flushed to the transport within the peer's window grants. If
// the channel closes first it returns ErrChannelClosed with the count
// actually transmitted.
func (c *Channel) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	request := &writeRequest{data: p, reply: make(chan writeResult, 1)}
	if err := c.session.do(func() { c.writeOp(request) }); err != nil {
		return 0, err
	}
	result := <-request.reply
	return result.n, result.err
}

// writeOp runs on the dispatcher: enqueue or reject. The flush pass
// after the current stimulus moves the bytes out.
func (c *Channel) writeOp(request *writeRequest) {
	if c.terminal != nil {
		request.reply <- writeResult{err: c.terminal}
		return
	}
	if c.closed || c.eofSent || c.eofQueued {
		request.reply <- writeResult{err: ErrChannelClosed}
		return
	}
	c.writers = append(c.writers, request)
}

// CloseWrite half-closes the outbound direction: once the write queue
// has drained it sends EOF to the peer. It blocks until the EOF is on
// the transport. Idempotent after the EOF has been sent.
func (c *Channel) CloseWrite() error {
	reply := make(chan error, 1)
	if err := c.session.do(func() { c.closeWriteOp(reply) }); err != nil {
		return err
	}
	return <-reply
}

func (c *Channel) closeWriteOp(reply chan error) {
	if c.terminal != nil {
		reply <- c.terminal
		return
	}
	if c.closed {
		reply <- ErrChannelClosed
		return
	}
	if c.eofSent {
		reply <- nil
		return
	}
	c.eofQueued = true
	c.eofWaiters = append(c.eofWaiters, reply)
}

// ExitStatus blocks until the remote reports the command's exit
// status or the channel closes without one (ErrUnknownExitStatus).
// The outcome is resolved once and cached: repeated calls return the
// same result without suspending. ctx only abandons the wait.
func (c *Channel) ExitStatus(ctx context.Context) (int, error) {
	reply := make(chan exitResult, 1)
	if err := c.session.do(func() { c.exitOp(reply) }); err != nil {
		// Session already torn down; teardown resolved the outcome
		// before closing done, so the cached value is safe to read.
		if c.exitOutcome != nil {
			return c.exitOutcome.status, c.exitOutcome.err
		}
		return 0, err
	}
	select {
	case result := <-reply:
		return result.status, result.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Channel) exitOp(reply chan exitResult) {
	if c.exitOutcome != nil {
		reply <- *c.exitOutcome
		return
	}
	c.exitWaiters = append(c.exitWaiters, reply)
}

// flush moves window-permitted queued bytes to the transport, resolves
// writers whose data is fully transmitted, and emits a queued EOF once
// the queue is empty. Runs on the dispatcher after every stimulus.
func (c *Channel) flush() {
	for len(c.writers) > 0 && c.remoteWindow > 0 {
		writer := c.writers[0]
		chunk := uint32(len(writer.data) - writer.written)
		if chunk > c.remoteWindow {
			chunk = c.remoteWindow
		}
		if chunk > c.remotePacket {
			chunk = c.remotePacket
		}
		payload := writer.data[writer.written : writer.written+int(chunk)]
		if err := c.session.send(&wire.ChannelData{RecipientID: c.remoteID, Data: payload}); err != nil {
			return
		}
		c.remoteWindow -= chunk
		writer.written += int(chunk)
		if writer.written == len(writer.data) {
			writer.reply <- writeResult{n: writer.written}
			c.writers = c.writers[1:]
		}
	}

	if len(c.writers) == 0 && c.eofQueued && !c.eofSent {
		c.eofQueued = false
		c.eofSent = true
		if err := c.session.send(&wire.ChannelEOF{RecipientID: c.remoteID}); err != nil {
			return
		}
		for _, waiter := range c.eofWaiters {
			waiter <- nil
		}
		c.eofWaiters = nil
		c.maybeCloseAfterEOF()
	}
}

// maybeCloseAfterEOF starts the close handshake once both directions
// have signalled EOF. The channel stays registered until the peer's
// close arrives, since the exit status legitimately trails EOF.
func (c *Channel) maybeCloseAfterEOF() {
	if c.eofSent && c.eofReceived && !c.closed {
		c.sendClose()
	}
}

func (c *Channel) sendClose() {
	if c.closeSent {
		return
	}
	c.closeSent = true
	c.session.send(&wire.ChannelClose{RecipientID: c.remoteID})
}

// markClosed forces the channel to its terminal state and resolves
// every parked operation. terminal is nil for an orderly channel
// close (readers drain then see io.EOF) and the session's terminal
// error when the whole session went down. Idempotent; runs on the
// dispatcher.
func (c *Channel) markClosed(terminal error) {
	if c.closed {
		return
	}
	c.closed = true

	if terminal == nil {
		c.stdout.eof = true
		c.stderr.eof = true
	} else {
		c.terminal = terminal
	}
	c.serveWaiters(&c.stdout)
	c.serveWaiters(&c.stderr)

	writerErr := ErrChannelClosed
	if terminal != nil {
		writerErr = terminal
	}
	for _, writer := range c.writers {
		writer.reply <- writeResult{n: writer.written, err: writerErr}
	}
	c.writers = nil
	for _, waiter := range c.eofWaiters {
		waiter <- writerErr
	}
	c.eofWaiters = nil
	c.eofQueued = false

	if c.exitOutcome == nil {
		c.exitOutcome = &exitResult{err: ErrUnknownExitStatus}
	}
	for _, waiter := range c.exitWaiters {
		waiter <- *c.exitOutcome
	}
	c.exitWaiters = nil
}
