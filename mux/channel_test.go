// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mux_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/bureau-foundation/seam/lib/testutil"
	"github.com/bureau-foundation/seam/mux"
	"github.com/bureau-foundation/seam/wire"
)

func TestChannelReadDeliversData(t *testing.T) {
	session, remote := newSessionPair(t)
	authenticate(t, session, remote)
	channel := openChannel(t, session, remote, "echo hello", 700, 1<<20, 4096)

	remote.send(&wire.ChannelData{RecipientID: channel.LocalID(), Data: []byte("hel")})
	remote.send(&wire.ChannelData{RecipientID: channel.LocalID(), Data: []byte("lo\n")})
	remote.send(&wire.ChannelEOF{RecipientID: channel.LocalID()})

	out, err := io.ReadAll(channel)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(out) != "hello\n" {
		t.Fatalf("read %q, want %q", out, "hello\n")
	}
}

func TestChannelReadUnblocksOnData(t *testing.T) {
	session, remote := newSessionPair(t)
	authenticate(t, session, remote)
	channel := openChannel(t, session, remote, "cat", 700, 1<<20, 4096)

	type readOutcome struct {
		data string
		err  error
	}
	result := make(chan readOutcome, 1)
	go func() {
		buffer := make([]byte, 16)
		n, err := channel.Read(buffer)
		result <- readOutcome{string(buffer[:n]), err}
	}()

	remote.send(&wire.ChannelData{RecipientID: channel.LocalID(), Data: []byte("late")})
	outcome := testutil.RequireReceive(t, result, waitTimeout, "parked read")
	if outcome.err != nil || outcome.data != "late" {
		t.Fatalf("read %q, %v; want %q, nil", outcome.data, outcome.err, "late")
	}
}

func TestChannelStderrSeparateFromStdout(t *testing.T) {
	session, remote := newSessionPair(t)
	authenticate(t, session, remote)
	channel := openChannel(t, session, remote, "sh -c 'echo out; echo err >&2'", 700, 1<<20, 4096)

	remote.send(&wire.ChannelData{RecipientID: channel.LocalID(), Data: []byte("out\n")})
	remote.send(&wire.ChannelExtendedData{
		RecipientID: channel.LocalID(),
		Stream:      wire.ExtendedDataStderr,
		Data:        []byte("err\n"),
	})
	remote.send(&wire.ChannelEOF{RecipientID: channel.LocalID()})

	stdout, err := io.ReadAll(channel)
	if err != nil || string(stdout) != "out\n" {
		t.Fatalf("stdout %q, %v; want %q, nil", stdout, err, "out\n")
	}
	stderr, err := io.ReadAll(channel.Stderr())
	if err != nil || string(stderr) != "err\n" {
		t.Fatalf("stderr %q, %v; want %q, nil", stderr, err, "err\n")
	}
}

// TestChannelFullExchange walks a complete command lifecycle: output,
// EOF, trailing exit status, then the close handshake.
func TestChannelFullExchange(t *testing.T) {
	session, remote := newSessionPair(t)
	authenticate(t, session, remote)
	channel := openChannel(t, session, remote, "echo done", 700, 1<<20, 4096)

	remote.send(&wire.ChannelData{RecipientID: channel.LocalID(), Data: []byte("done\n")})
	remote.send(&wire.ChannelEOF{RecipientID: channel.LocalID()})

	out, err := io.ReadAll(channel)
	if err != nil || string(out) != "done\n" {
		t.Fatalf("output %q, %v", out, err)
	}

	// Exit status arrives after EOF and must still land.
	remote.send(&wire.ChannelExitStatus{RecipientID: channel.LocalID(), Status: 0})
	status, err := channel.ExitStatus(context.Background())
	if err != nil || status != 0 {
		t.Fatalf("ExitStatus = %d, %v; want 0, nil", status, err)
	}

	remote.send(&wire.ChannelClose{RecipientID: channel.LocalID()})
	closeMsg := expectEvent[*wire.ChannelClose](remote, "close reply")
	if closeMsg.RecipientID != 700 {
		t.Fatalf("close addressed to %d, want 700", closeMsg.RecipientID)
	}

	// The exit outcome stays readable after the channel is gone.
	status, err = channel.ExitStatus(context.Background())
	if err != nil || status != 0 {
		t.Fatalf("ExitStatus after close = %d, %v; want 0, nil", status, err)
	}
}

func TestChannelCloseUnblocksReads(t *testing.T) {
	session, remote := newSessionPair(t)
	authenticate(t, session, remote)
	channel := openChannel(t, session, remote, "cat", 700, 1<<20, 4096)

	result := make(chan error, 1)
	go func() {
		_, err := channel.Read(make([]byte, 16))
		result <- err
	}()

	// A close without a preceding EOF still drains readers cleanly.
	remote.send(&wire.ChannelClose{RecipientID: channel.LocalID()})
	expectEvent[*wire.ChannelClose](remote, "close reply")

	if err := testutil.RequireReceive(t, result, waitTimeout, "parked read"); err != io.EOF {
		t.Fatalf("parked read resolved with %v, want io.EOF", err)
	}
	if _, err := channel.Write([]byte("x")); !errors.Is(err, mux.ErrChannelClosed) {
		t.Fatalf("write after close: %v, want ErrChannelClosed", err)
	}
}

func TestChannelCloseWithoutExitStatus(t *testing.T) {
	session, remote := newSessionPair(t)
	authenticate(t, session, remote)
	channel := openChannel(t, session, remote, "kill -9 $$", 700, 1<<20, 4096)

	remote.send(&wire.ChannelClose{RecipientID: channel.LocalID()})
	expectEvent[*wire.ChannelClose](remote, "close reply")

	if _, err := channel.ExitStatus(context.Background()); !errors.Is(err, mux.ErrUnknownExitStatus) {
		t.Fatalf("got %v, want ErrUnknownExitStatus", err)
	}
}

func TestChannelWriteRespectsWindow(t *testing.T) {
	session, remote := newSessionPair(t)
	authenticate(t, session, remote)
	// The remote grants only 4 bytes of window.
	channel := openChannel(t, session, remote, "cat", 700, 4, 4096)

	type writeOutcome struct {
		n   int
		err error
	}
	result := make(chan writeOutcome, 1)
	go func() {
		n, err := channel.Write([]byte("0123456789"))
		result <- writeOutcome{n, err}
	}()

	first := expectEvent[*wire.ChannelData](remote, "first chunk")
	if string(first.Data) != "0123" {
		t.Fatalf("first chunk %q, want %q", first.Data, "0123")
	}

	// No more data may flow until the window is replenished.
	select {
	case <-result:
		t.Fatal("write completed past the window grant")
	default:
	}

	remote.send(&wire.ChannelWindowAdjust{RecipientID: channel.LocalID(), Additional: 4})
	second := expectEvent[*wire.ChannelData](remote, "second chunk")
	if string(second.Data) != "4567" {
		t.Fatalf("second chunk %q, want %q", second.Data, "4567")
	}

	remote.send(&wire.ChannelWindowAdjust{RecipientID: channel.LocalID(), Additional: 4})
	third := expectEvent[*wire.ChannelData](remote, "third chunk")
	if string(third.Data) != "89" {
		t.Fatalf("third chunk %q, want %q", third.Data, "89")
	}

	outcome := testutil.RequireReceive(t, result, waitTimeout, "write completion")
	if outcome.err != nil || outcome.n != 10 {
		t.Fatalf("Write = %d, %v; want 10, nil", outcome.n, outcome.err)
	}
}

func TestChannelWriteRespectsMaxPacket(t *testing.T) {
	session, remote := newSessionPair(t)
	authenticate(t, session, remote)
	// Ample window, tiny packets.
	channel := openChannel(t, session, remote, "cat", 700, 1<<20, 3)

	result := make(chan error, 1)
	go func() {
		_, err := channel.Write([]byte("abcdefgh"))
		result <- err
	}()

	for _, want := range []string{"abc", "def", "gh"} {
		chunk := expectEvent[*wire.ChannelData](remote, "packet-limited chunk")
		if string(chunk.Data) != want {
			t.Fatalf("chunk %q, want %q", chunk.Data, want)
		}
	}
	if err := testutil.RequireReceive(t, result, waitTimeout, "write completion"); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestChannelWindowReplenishedOnConsumption(t *testing.T) {
	// A small local window makes the replenish threshold observable.
	session, remote := newSessionPair(t, mux.WithWindow(8))
	authenticate(t, session, remote)
	channel := openChannel(t, session, remote, "cat", 700, 1<<20, 4096)

	remote.send(&wire.ChannelData{RecipientID: channel.LocalID(), Data: []byte("123")})
	buffer := make([]byte, 16)
	if n, err := channel.Read(buffer); err != nil || n != 3 {
		t.Fatalf("Read = %d, %v", n, err)
	}
	// 3 of 8 bytes consumed: below the half-window threshold, no
	// adjust yet. The next read crosses it.
	remote.send(&wire.ChannelData{RecipientID: channel.LocalID(), Data: []byte("456")})
	if n, err := channel.Read(buffer); err != nil || n != 3 {
		t.Fatalf("Read = %d, %v", n, err)
	}

	adjust := expectEvent[*wire.ChannelWindowAdjust](remote, "window replenishment")
	if adjust.RecipientID != 700 || adjust.Additional != 6 {
		t.Fatalf("adjust %+v, want Additional 6 for channel 700", adjust)
	}
}

func TestChannelInboundWindowViolationIsFatal(t *testing.T) {
	session, remote := newSessionPair(t, mux.WithWindow(4))
	authenticate(t, session, remote)
	channel := openChannel(t, session, remote, "cat", 700, 1<<20, 4096)

	// Five bytes against a four-byte grant.
	remote.send(&wire.ChannelData{RecipientID: channel.LocalID(), Data: []byte("12345")})

	disconnect := expectEvent[*wire.Disconnect](remote, "protocol disconnect")
	if disconnect.Code != wire.DisconnectProtocolError {
		t.Fatalf("disconnect code %d, want %d", disconnect.Code, wire.DisconnectProtocolError)
	}
	testutil.RequireClosed(t, session.Done(), waitTimeout, "session done")
	if !errors.Is(session.Err(), mux.ErrWindowViolation) {
		t.Fatalf("Err = %v, want ErrWindowViolation in the chain", session.Err())
	}
}

func TestChannelCloseWrite(t *testing.T) {
	session, remote := newSessionPair(t)
	authenticate(t, session, remote)
	channel := openChannel(t, session, remote, "cat", 700, 1<<20, 4096)

	result := make(chan error, 1)
	go func() {
		if _, err := channel.Write([]byte("stdin")); err != nil {
			result <- err
			return
		}
		result <- channel.CloseWrite()
	}()

	data := expectEvent[*wire.ChannelData](remote, "queued data before EOF")
	if string(data.Data) != "stdin" {
		t.Fatalf("data %q", data.Data)
	}
	eof := expectEvent[*wire.ChannelEOF](remote, "outbound EOF")
	if eof.RecipientID != 700 {
		t.Fatalf("EOF addressed to %d, want 700", eof.RecipientID)
	}
	if err := testutil.RequireReceive(t, result, waitTimeout, "close write"); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}

	if _, err := channel.Write([]byte("more")); !errors.Is(err, mux.ErrChannelClosed) {
		t.Fatalf("write after CloseWrite: %v, want ErrChannelClosed", err)
	}
	if err := channel.CloseWrite(); err != nil {
		t.Fatalf("repeated CloseWrite: %v", err)
	}
}

func TestChannelBothEOFStartsCloseHandshake(t *testing.T) {
	session, remote := newSessionPair(t)
	authenticate(t, session, remote)
	channel := openChannel(t, session, remote, "cat", 700, 1<<20, 4096)

	remote.send(&wire.ChannelEOF{RecipientID: channel.LocalID()})
	if err := channel.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}
	expectEvent[*wire.ChannelEOF](remote, "outbound EOF")
	expectEvent[*wire.ChannelClose](remote, "close after both EOFs")

	// The channel stays registered until the peer's close, so a
	// trailing exit status still lands.
	remote.send(&wire.ChannelExitStatus{RecipientID: channel.LocalID(), Status: 42})
	status, err := channel.ExitStatus(context.Background())
	if err != nil || status != 42 {
		t.Fatalf("ExitStatus = %d, %v; want 42, nil", status, err)
	}
	remote.send(&wire.ChannelClose{RecipientID: channel.LocalID()})
}

func TestChannelWritePartialOnSessionClose(t *testing.T) {
	session, remote := newSessionPair(t)
	authenticate(t, session, remote)
	// Window lets only the first 4 bytes through.
	channel := openChannel(t, session, remote, "cat", 700, 4, 4096)

	type writeOutcome struct {
		n   int
		err error
	}
	result := make(chan writeOutcome, 1)
	go func() {
		n, err := channel.Write([]byte("0123456789"))
		result <- writeOutcome{n, err}
	}()
	expectEvent[*wire.ChannelData](remote, "first chunk")

	session.Close()

	outcome := testutil.RequireReceive(t, result, waitTimeout, "blocked write")
	if outcome.n != 4 || !errors.Is(outcome.err, mux.ErrSessionClosed) {
		t.Fatalf("Write = %d, %v; want 4 transmitted bytes and ErrSessionClosed", outcome.n, outcome.err)
	}
}
