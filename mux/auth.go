// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/seam/wire"
)

// authState tracks the session's authentication progress.
type authState int

const (
	authUnauthenticated authState = iota
	authAuthenticating
	authAuthenticated
	authFailed
)

// Credential produces the authentication request submitted for a
// session. The credential package provides password and public-key
// implementations; anything satisfying the interface works. The
// session identifier of the transport is passed in so public-key
// credentials can bind their signature to the connection.
type Credential interface {
	AuthRequest(sessionID []byte) (*wire.AuthRequest, error)
}

// Authenticate submits the credential and suspends until the peer
// answers. On success the session is ready for OpenExec. On rejection
// it returns an *AuthError with kind AuthRejected and the session
// stays usable for another attempt with a different credential; the
// library never retries on its own. ctx only abandons the wait.
//
// Building the request (which may involve signing) happens on the
// calling goroutine, never on the dispatcher.
func (s *Session) Authenticate(ctx context.Context, cred Credential) error {
	request, err := cred.AuthRequest(s.tr.SessionID())
	if err != nil {
		return fmt.Errorf("mux: building auth request: %w", err)
	}
	reply := make(chan error, 1)
	if err := s.do(func() { s.authOp(request, reply) }); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// authOp runs on the dispatcher: send the request and park the
// attempt until the peer's AuthResult.
func (s *Session) authOp(request *wire.AuthRequest, reply chan error) {
	if s.torn {
		reply <- s.closeErr
		return
	}
	switch s.authState {
	case authAuthenticated:
		reply <- errors.New("mux: session already authenticated")
	case authAuthenticating:
		reply <- errors.New("mux: authentication already in progress")
	default:
		if err := s.send(request); err != nil {
			reply <- err
			return
		}
		s.authState = authAuthenticating
		s.authPending = reply
	}
}

// handleAuthResult resolves the parked authentication attempt. An
// AuthResult with no attempt in flight is a protocol violation.
func (s *Session) handleAuthResult(result *wire.AuthResult) {
	if s.authState != authAuthenticating || s.authPending == nil {
		s.failProtocol(&AuthError{Kind: AuthProtocol, Reason: "unsolicited authentication result"})
		return
	}
	reply := s.authPending
	s.authPending = nil

	if result.Success {
		s.authState = authAuthenticated
		s.logger.Debug("session authenticated")
		reply <- nil
		return
	}

	// Rejection is not terminal: the caller decides whether to try
	// another credential.
	s.authState = authUnauthenticated
	reply <- &AuthError{
		Kind:             AuthRejected,
		Reason:           result.Reason,
		MethodsRemaining: result.MethodsRemaining,
	}
}
