// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/bureau-foundation/seam/lib/testutil"
	"github.com/bureau-foundation/seam/wire"
)

// framePair builds two connected FrameTransports over a net.Pipe.
func framePair(t *testing.T) (*FrameTransport, *FrameTransport) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	type result struct {
		tr  *FrameTransport
		err error
	}
	serverResult := make(chan result, 1)
	go func() {
		tr, err := NewFrameTransport(serverConn)
		serverResult <- result{tr, err}
	}()
	client, err := NewFrameTransport(clientConn)
	if err != nil {
		t.Fatalf("client NewFrameTransport: %v", err)
	}
	server := testutil.RequireReceive(t, serverResult, 5*time.Second, "server transport setup")
	if server.err != nil {
		t.Fatalf("server NewFrameTransport: %v", server.err)
	}
	t.Cleanup(func() {
		client.Close()
		server.tr.Close()
	})
	return client, server.tr
}

func TestFrameTransportSessionIDAgreement(t *testing.T) {
	client, server := framePair(t)
	if len(client.SessionID()) == 0 {
		t.Fatal("empty session ID")
	}
	if !bytes.Equal(client.SessionID(), server.SessionID()) {
		t.Fatalf("session IDs differ: %x vs %x", client.SessionID(), server.SessionID())
	}
}

func TestFrameTransportDistinctSessionIDs(t *testing.T) {
	first, _ := framePair(t)
	second, _ := framePair(t)
	if bytes.Equal(first.SessionID(), second.SessionID()) {
		t.Fatal("two connections derived the same session ID")
	}
}

func TestFrameTransportDeliveryOrder(t *testing.T) {
	client, server := framePair(t)

	sendErr := make(chan error, 1)
	go func() {
		for i := uint32(0); i < 50; i++ {
			if err := client.Send(&wire.ChannelWindowAdjust{RecipientID: i, Additional: i}); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- nil
	}()

	for i := uint32(0); i < 50; i++ {
		event := testutil.RequireReceive(t, server.Events(), 5*time.Second, "event %d", i)
		adjust, ok := event.(*wire.ChannelWindowAdjust)
		if !ok {
			t.Fatalf("event %d: got %T, want *wire.ChannelWindowAdjust", i, event)
		}
		if adjust.RecipientID != i {
			t.Fatalf("event %d arrived out of order: RecipientID = %d", i, adjust.RecipientID)
		}
	}
	if err := testutil.RequireReceive(t, sendErr, 5*time.Second, "sender finished"); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestFrameTransportCloseEndsEvents(t *testing.T) {
	client, server := framePair(t)

	client.Close()

	// The peer observes the close as a clean end of stream.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-server.Events():
			if !ok {
				if err := server.Err(); err != nil {
					t.Fatalf("Err after peer close: %v, want nil", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for server events to close")
		}
	}
}

func TestFrameTransportSendAfterClose(t *testing.T) {
	client, _ := framePair(t)
	client.Close()
	if err := client.Send(&wire.ChannelEOF{RecipientID: 1}); err != ErrClosed {
		t.Fatalf("Send after Close: got %v, want ErrClosed", err)
	}
}
