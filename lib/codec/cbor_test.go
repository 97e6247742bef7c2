// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Name  string            `cbor:"name"`
	Count int               `cbor:"count"`
	Tags  map[string]string `cbor:"tags,omitempty"`
}

func TestRoundTrip(t *testing.T) {
	in := sample{
		Name:  "window",
		Count: 42,
		Tags:  map[string]string{"stream": "stderr", "kind": "data"},
	}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Name != in.Name || out.Count != in.Count || len(out.Tags) != len(in.Tags) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestDeterministicEncoding(t *testing.T) {
	// Map iteration order varies between Marshal calls; deterministic
	// encoding must hide that.
	in := sample{
		Name:  "det",
		Count: 7,
		Tags:  map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"},
	}
	first, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 16; i++ {
		again, err := Marshal(in)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("non-deterministic encoding on attempt %d:\n  %x\n  %x", i, first, again)
		}
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	type wide struct {
		Name  string `cbor:"name"`
		Extra string `cbor:"extra"`
	}
	data, err := Marshal(wide{Name: "compat", Extra: "from a newer peer"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if out.Name != "compat" {
		t.Fatalf("Name = %q, want %q", out.Name, "compat")
	}
}
