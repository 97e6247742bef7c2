// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"errors"
	"fmt"
)

// Sentinel errors. Channel-level failures are local to the channel
// that produced them; session-level failures resolve every pending
// operation in the session.
var (
	// ErrSessionClosed is the outcome of every operation pending when
	// the session is closed locally, and of operations submitted
	// afterward.
	ErrSessionClosed = errors.New("mux: session closed")

	// ErrChannelClosed is returned by writes on a channel that has
	// closed or half-closed its outbound direction. Bytes that were
	// queued but never transmitted are reported through the write's
	// partial count; nothing is silently dropped.
	ErrChannelClosed = errors.New("mux: channel closed")

	// ErrUnknownExitStatus is returned by ExitStatus when the channel
	// closed without the remote ever reporting an exit status.
	ErrUnknownExitStatus = errors.New("mux: remote closed without reporting an exit status")

	// ErrWindowViolation indicates the peer overran a flow-control
	// window. It is fatal to the session and surfaces wrapped in a
	// *TransportError.
	ErrWindowViolation = errors.New("mux: flow-control window violated")

	// ErrNotAuthenticated is returned by OpenExec before a successful
	// Authenticate.
	ErrNotAuthenticated = errors.New("mux: session not authenticated")
)

// TransportError is a fatal session-wide failure: the transport broke,
// the peer disconnected, or the peer violated the protocol. Every
// operation pending at the time resolves with the same value.
type TransportError struct {
	// Op names the activity that observed the failure: "send",
	// "receive", "disconnect", or "protocol".
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mux: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthErrorKind classifies an authentication failure.
type AuthErrorKind int

const (
	// AuthRejected means the peer refused the credential. The session
	// remains usable: the caller may retry with a different
	// credential. The library never retries on its own.
	AuthRejected AuthErrorKind = iota

	// AuthProtocol means the authentication exchange itself was
	// malformed or arrived out of sequence. Not retryable.
	AuthProtocol
)

func (k AuthErrorKind) String() string {
	switch k {
	case AuthRejected:
		return "rejected"
	case AuthProtocol:
		return "protocol"
	}
	return fmt.Sprintf("AuthErrorKind(%d)", int(k))
}

// AuthError reports a failed authentication attempt.
type AuthError struct {
	Kind   AuthErrorKind
	Reason string
	// MethodsRemaining lists methods the peer is still willing to
	// accept, when it said so.
	MethodsRemaining []string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("mux: authentication %s", e.Kind)
	}
	return fmt.Sprintf("mux: authentication %s: %s", e.Kind, e.Reason)
}

// IsAuthRejected reports whether err is an *AuthError with kind
// AuthRejected, meaning a different credential may be worth trying.
func IsAuthRejected(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Kind == AuthRejected
}

// OpenRejectedError reports that the peer refused to open a channel.
// No channel is registered when OpenExec returns it.
type OpenRejectedError struct {
	// Code is the wire reason code (wire.OpenAdministrativelyProhibited
	// and friends), zero when the rejection came from the exec request
	// rather than the open itself.
	Code   uint32
	Reason string
}

func (e *OpenRejectedError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("mux: channel open rejected: %s", e.Reason)
	}
	return fmt.Sprintf("mux: channel open rejected: %s (code %d)", e.Reason, e.Code)
}

// IsOpenRejected reports whether err is an *OpenRejectedError,
// returning it for inspection when so.
func IsOpenRejected(err error) (*OpenRejectedError, bool) {
	var openErr *OpenRejectedError
	if errors.As(err, &openErr) {
		return openErr, true
	}
	return nil, false
}
