// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/seam/transport"
	"github.com/bureau-foundation/seam/wire"
)

// defaultWindow is the initial flow-control grant offered to the peer
// on each new channel.
const defaultWindow = 2 * 1024 * 1024

// defaultMaxPacket is the largest single data payload advertised to
// the peer, and the fallback ceiling applied when the peer fails to
// advertise one of its own.
const defaultMaxPacket = 32 * 1024

// Session multiplexes channels over one authenticated transport
// connection. Create it with NewSession, authenticate it, then open
// channels with OpenExec. All methods are safe for concurrent use;
// internally every state change runs on the session's single
// dispatcher goroutine.
type Session struct {
	tr     transport.Transport
	logger *slog.Logger

	initialWindow uint32
	maxPacket     uint32

	// ops carries caller operations to the dispatcher. Unbuffered:
	// an operation is either received by the dispatcher or the caller
	// observes done and fails with the terminal error, never both.
	ops  chan func()
	done chan struct{}

	// closeErr is the terminal session error. The dispatcher writes
	// it before closing done; anyone may read it afterward.
	closeErr error

	// Dispatcher-owned state. Only the dispatcher goroutine touches
	// the fields below.
	torn         bool
	authState    authState
	authPending  chan error
	nextLocalID  uint32
	channels     map[uint32]*Channel
	pendingOpens map[uint32]*pendingOpen
}

// pendingOpen correlates an in-flight open/exec request pair with the
// caller waiting on it. The channel field is nil until the open
// confirmation arrives; the exec confirmation then resolves reply.
type pendingOpen struct {
	command string
	reply   chan openResult
	channel *Channel
}

type openResult struct {
	channel *Channel
	err     error
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithWindow sets the initial flow-control window granted to the peer
// on each channel. Mainly useful to tighten backpressure in tests.
func WithWindow(bytes uint32) Option {
	return func(s *Session) { s.initialWindow = bytes }
}

// WithMaxPacket sets the largest single data payload advertised to
// the peer.
func WithMaxPacket(bytes uint32) Option {
	return func(s *Session) { s.maxPacket = bytes }
}

// NewSession starts a session over tr and its dispatcher goroutine.
// The session takes ownership of the transport: session teardown
// closes it. The new session is unauthenticated; call Authenticate
// before OpenExec.
func NewSession(tr transport.Transport, options ...Option) *Session {
	s := &Session{
		tr:            tr,
		logger:        slog.Default(),
		initialWindow: defaultWindow,
		maxPacket:     defaultMaxPacket,
		ops:           make(chan func()),
		done:          make(chan struct{}),
		channels:      make(map[uint32]*Channel),
		pendingOpens:  make(map[uint32]*pendingOpen),
	}
	for _, option := range options {
		option(s)
	}
	go s.run()
	return s
}

// Done is closed when the session has terminated, for any reason.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal session error after Done is closed:
// ErrSessionClosed for a local Close, a *TransportError otherwise.
// Before termination it returns nil.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.closeErr
	default:
		return nil
	}
}

// do submits an operation to the dispatcher. If the session has
// already terminated it returns the terminal error instead; the
// operation is guaranteed to either run or not be enqueued at all.
func (s *Session) do(op func()) error {
	select {
	case s.ops <- op:
		return nil
	case <-s.done:
		return s.closeErr
	}
}

// OpenExec opens a new channel running the given command on the
// remote host. It suspends until the peer has confirmed both the
// channel open and the exec request. On rejection it returns an
// *OpenRejectedError and no channel is registered. ctx only abandons
// the wait; an already-confirmed channel then stays registered until
// the session or the remote closes it.
func (s *Session) OpenExec(ctx context.Context, command string) (*Channel, error) {
	reply := make(chan openResult, 1)
	if err := s.do(func() { s.openOp(command, reply) }); err != nil {
		return nil, err
	}
	select {
	case result := <-reply:
		return result.channel, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// openOp runs on the dispatcher: allocate an id, send the open
// request, and register the pending open.
func (s *Session) openOp(command string, reply chan openResult) {
	if s.torn {
		reply <- openResult{err: s.closeErr}
		return
	}
	if s.authState != authAuthenticated {
		reply <- openResult{err: ErrNotAuthenticated}
		return
	}

	// Monotonic allocation: an id is never handed to two
	// simultaneously registered channels.
	id := s.nextLocalID
	s.nextLocalID++

	if err := s.send(&wire.ChannelOpen{
		SenderID:      id,
		InitialWindow: s.initialWindow,
		MaxPacketSize: s.maxPacket,
	}); err != nil {
		reply <- openResult{err: err}
		return
	}
	s.pendingOpens[id] = &pendingOpen{command: command, reply: reply}
}

// Close terminates the session: it sends a disconnect to the peer,
// forces every channel closed, and resolves every pending operation
// with a connection-closed outcome. Idempotent; returns nil on repeat
// calls.
func (s *Session) Close() error {
	err := s.do(func() {
		if s.torn {
			return
		}
		// Best effort: the transport may already be broken.
		s.tr.Send(&wire.Disconnect{Code: wire.DisconnectByApplication, Reason: "session closed"})
		s.teardown(ErrSessionClosed)
	})
	if err != nil {
		return nil
	}
	<-s.done
	return nil
}

// send transmits a message on the dispatcher goroutine. A transport
// failure here is fatal to the session: it tears everything down and
// returns the terminal error.
func (s *Session) send(message wire.Message) error {
	if err := s.tr.Send(message); err != nil {
		s.teardown(&TransportError{Op: "send", Err: err})
		return s.closeErr
	}
	return nil
}

// teardown is the single exit path of a session. It records the
// terminal error, resolves everything still pending (the auth
// attempt, pending opens, and every channel operation), closes the
// transport, and releases waiters by closing done. Runs on the
// dispatcher goroutine; idempotent.
func (s *Session) teardown(terminal error) {
	if s.torn {
		return
	}
	s.torn = true
	s.closeErr = terminal

	if terminal == ErrSessionClosed {
		s.logger.Debug("session closed")
	} else {
		s.logger.Warn("session terminated", "error", terminal)
	}

	if s.authPending != nil {
		s.authPending <- terminal
		s.authPending = nil
		s.authState = authFailed
	}
	for id, pending := range s.pendingOpens {
		pending.reply <- openResult{err: terminal}
		delete(s.pendingOpens, id)
	}
	for id, channel := range s.channels {
		channel.markClosed(terminal)
		delete(s.channels, id)
	}

	s.tr.Close()
	close(s.done)
}
