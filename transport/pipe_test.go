// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"testing"
	"time"

	"github.com/bureau-foundation/seam/lib/testutil"
	"github.com/bureau-foundation/seam/wire"
)

func TestPipeDelivery(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	if err := a.Send(&wire.ChannelData{RecipientID: 7, Data: []byte("ping")}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	event := testutil.RequireReceive(t, b.Events(), 5*time.Second, "pipe delivery")
	data, ok := event.(*wire.ChannelData)
	if !ok || data.RecipientID != 7 || string(data.Data) != "ping" {
		t.Fatalf("got %#v", event)
	}
}

func TestPipeSharedSessionID(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	if len(a.SessionID()) == 0 || !bytes.Equal(a.SessionID(), b.SessionID()) {
		t.Fatalf("session IDs: %x vs %x", a.SessionID(), b.SessionID())
	}
}

func TestPipeCloseTerminatesBothEnds(t *testing.T) {
	a, b := Pipe()

	a.Close()

	for name, tr := range map[string]*PipeTransport{"a": a, "b": b} {
		deadline := time.After(5 * time.Second)
		for open := true; open; {
			select {
			case _, ok := <-tr.Events():
				open = ok
			case <-deadline:
				t.Fatalf("end %s: events not closed", name)
			}
		}
		if err := tr.Send(&wire.ChannelEOF{RecipientID: 0}); err != ErrClosed {
			t.Fatalf("end %s: Send after close: got %v, want ErrClosed", name, err)
		}
		if err := tr.Err(); err != nil {
			t.Fatalf("end %s: Err: %v, want nil", name, err)
		}
	}
}
