// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/seam/wire"
)

// run is the dispatcher: the one goroutine that pumps inbound
// transport events and caller operations through the session, and
// flushes window-permitted outbound data after every stimulus. All
// session and channel state mutation happens here.
func (s *Session) run() {
	events := s.tr.Events()
	for !s.torn {
		select {
		case event, ok := <-events:
			if !ok {
				err := s.tr.Err()
				if err == nil {
					err = errors.New("connection closed")
				}
				s.teardown(&TransportError{Op: "receive", Err: err})
				continue
			}
			s.dispatch(event)
		case op := <-s.ops:
			op()
		}
		if !s.torn {
			s.flushAll()
		}
	}
	s.drainOps()
}

// drainOps runs operations that were enqueued in the instant between
// teardown and the submitters observing done. Each such operation
// sees the torn session and resolves its caller with the terminal
// error.
func (s *Session) drainOps() {
	for {
		select {
		case op := <-s.ops:
			op()
		default:
			return
		}
	}
}

// dispatch routes one inbound event. Channel events referencing an id
// that is no longer registered are discarded: the channel may have
// completed a local close while a final message from the remote was
// still in flight, which is a benign race, not a violation.
func (s *Session) dispatch(event wire.Event) {
	switch ev := event.(type) {
	case *wire.AuthResult:
		s.handleAuthResult(ev)
	case *wire.ChannelOpenConfirmation:
		s.handleOpenConfirmation(ev)
	case *wire.ChannelOpenFailure:
		s.handleOpenFailure(ev)
	case *wire.ChannelRequestReply:
		s.handleRequestReply(ev)
	case *wire.ChannelData:
		if channel := s.channel(ev.RecipientID, "data"); channel != nil {
			channel.handleData(&channel.stdout, ev.Data)
		}
	case *wire.ChannelExtendedData:
		if ev.Stream != wire.ExtendedDataStderr {
			s.logger.Debug("discarding extended data for unknown stream",
				"channel_id", ev.RecipientID, "stream", ev.Stream)
			return
		}
		if channel := s.channel(ev.RecipientID, "extended data"); channel != nil {
			channel.handleData(&channel.stderr, ev.Data)
		}
	case *wire.ChannelEOF:
		if channel := s.channel(ev.RecipientID, "eof"); channel != nil {
			channel.handleEOF()
		}
	case *wire.ChannelExitStatus:
		if channel := s.channel(ev.RecipientID, "exit status"); channel != nil {
			channel.handleExitStatus(ev.Status)
		}
	case *wire.ChannelWindowAdjust:
		if channel := s.channel(ev.RecipientID, "window adjust"); channel != nil {
			channel.handleWindowAdjust(ev.Additional)
		}
	case *wire.ChannelClose:
		if channel := s.channel(ev.RecipientID, "close"); channel != nil {
			channel.handleClose()
		}
	case *wire.GlobalRequest:
		// Keepalives and other global requests: acknowledge and move
		// on. Failure is the expected keepalive answer.
		s.logger.Debug("global request", "name", ev.Name, "want_reply", ev.WantReply)
		if ev.WantReply {
			s.send(&wire.GlobalRequestReply{Success: false})
		}
	case *wire.Disconnect:
		s.teardown(&TransportError{
			Op:  "disconnect",
			Err: fmt.Errorf("peer disconnected: %s (code %d)", ev.Reason, ev.Code),
		})
	default:
		s.failProtocol(fmt.Errorf("unexpected %T from peer", event))
	}
}

// channel looks up a registered channel for an inbound event,
// logging and returning nil for the benign already-closed race.
func (s *Session) channel(id uint32, eventName string) *Channel {
	channel, ok := s.channels[id]
	if !ok {
		s.logger.Debug("discarding event for unregistered channel",
			"event", eventName, "channel_id", id)
		return nil
	}
	return channel
}

// handleOpenConfirmation binds the remote id and issues the exec
// request, the second step of OpenExec. The caller stays parked
// until the exec confirmation.
func (s *Session) handleOpenConfirmation(ev *wire.ChannelOpenConfirmation) {
	pending, ok := s.pendingOpens[ev.RecipientID]
	if !ok {
		s.logger.Debug("discarding open confirmation for unknown request", "channel_id", ev.RecipientID)
		return
	}
	if pending.channel != nil {
		s.failProtocol(fmt.Errorf("duplicate open confirmation for channel %d", ev.RecipientID))
		return
	}
	channel := newChannel(s, ev.RecipientID, ev.SenderID, ev.InitialWindow, ev.MaxPacketSize)
	s.channels[channel.localID] = channel
	pending.channel = channel
	s.send(&wire.ChannelExec{RecipientID: channel.remoteID, Command: pending.command, WantReply: true})
}

// handleOpenFailure resolves a pending open with rejection. No
// channel was registered for it.
func (s *Session) handleOpenFailure(ev *wire.ChannelOpenFailure) {
	pending, ok := s.pendingOpens[ev.RecipientID]
	if !ok {
		s.logger.Debug("discarding open failure for unknown request", "channel_id", ev.RecipientID)
		return
	}
	if pending.channel != nil {
		s.failProtocol(fmt.Errorf("open failure after confirmation for channel %d", ev.RecipientID))
		return
	}
	delete(s.pendingOpens, ev.RecipientID)
	pending.reply <- openResult{err: &OpenRejectedError{Code: ev.Code, Reason: ev.Reason}}
}

// handleRequestReply resolves the exec confirmation of a pending
// open. A rejected exec closes the half-open channel again.
func (s *Session) handleRequestReply(ev *wire.ChannelRequestReply) {
	pending, ok := s.pendingOpens[ev.RecipientID]
	if !ok || pending.channel == nil {
		s.logger.Debug("discarding request reply for unknown request", "channel_id", ev.RecipientID)
		return
	}
	delete(s.pendingOpens, ev.RecipientID)
	channel := pending.channel

	if ev.Success {
		pending.reply <- openResult{channel: channel}
		return
	}

	delete(s.channels, channel.localID)
	s.send(&wire.ChannelClose{RecipientID: channel.remoteID})
	channel.markClosed(nil)
	pending.reply <- openResult{err: &OpenRejectedError{Reason: "exec request rejected"}}
}

// flushAll drains every channel's window-permitted outbound bytes to
// the transport. Called after each dispatcher stimulus.
func (s *Session) flushAll() {
	for _, channel := range s.channels {
		if s.torn {
			return
		}
		channel.flush()
	}
}

// failProtocol tears the session down over a protocol violation,
// telling the peer why first when the transport still works.
func (s *Session) failProtocol(cause error) {
	s.tr.Send(&wire.Disconnect{Code: wire.DisconnectProtocolError, Reason: cause.Error()})
	s.teardown(&TransportError{Op: "protocol", Err: cause})
}
