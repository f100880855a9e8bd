// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package buffer_test

import (
	"errors"
	"testing"

	"github.com/creachadair/binder/buffer"
	"github.com/creachadair/mds/mtest"
)

func fill(t *testing.T, b *buffer.Buffer, s string) {
	t.Helper()
	buf, err := b.Reserve(len(s))
	if err != nil {
		t.Fatalf("Reserve %d: unexpected error: %v", len(s), err)
	}
	b.Commit(copy(buf, s))
}

func checkData(t *testing.T, b *buffer.Buffer, want string) {
	t.Helper()
	if got := string(b.Data()); got != want {
		t.Errorf("Data: got %q, want %q", got, want)
	}
	if got := b.Len(); got != len(want) {
		t.Errorf("Len: got %d, want %d", got, len(want))
	}
}

func TestBasic(t *testing.T) {
	b := buffer.New(16)
	if got := b.Cap(); got != 16 {
		t.Errorf("Cap: got %d, want 16", got)
	}
	checkData(t, b, "")

	fill(t, b, "hello, ")
	fill(t, b, "world")
	checkData(t, b, "hello, world")

	b.Consume(7)
	checkData(t, b, "world")
	if got := b.Available(); got != 11 {
		t.Errorf("Available: got %d, want 11", got)
	}

	b.Consume(100) // more than is available
	checkData(t, b, "")

	fill(t, b, "again")
	b.Clear()
	checkData(t, b, "")
}

func TestCommitLimit(t *testing.T) {
	b := buffer.New(10)
	buf, err := b.Reserve(3)
	if err != nil {
		t.Fatalf("Reserve: unexpected error: %v", err)
	}
	copy(buf, "abc")
	b.Commit(8) // more than was reserved
	checkData(t, b, "abc")

	// A commit without a reservation has no effect.
	b.Commit(4)
	checkData(t, b, "abc")
}

func TestCompaction(t *testing.T) {
	b := buffer.New(8)
	fill(t, b, "abcdef")
	b.Consume(4)
	checkData(t, b, "ef")

	// The tail has 2 free bytes, the buffer has 6; this forces a compaction.
	buf, err := b.Reserve(6)
	if err != nil {
		t.Fatalf("Reserve: unexpected error: %v", err)
	}
	if len(buf) != 6 {
		t.Errorf("Reserve: got %d bytes, want 6", len(buf))
	}
	checkData(t, b, "ef")
	b.Commit(copy(buf, "ghijkl"))
	checkData(t, b, "efghijkl")
	if got := b.Available(); got != 0 {
		t.Errorf("Available: got %d, want 0", got)
	}
}

func TestOverflow(t *testing.T) {
	b := buffer.New(8)
	fill(t, b, "abcde")
	b.Consume(1)
	before := b.String()

	if _, err := b.Reserve(5); !errors.Is(err, buffer.ErrOverflow) {
		t.Errorf("Reserve: got %v, want %v", err, buffer.ErrOverflow)
	}
	checkData(t, b, "bcde")
	if got := b.String(); got != before {
		t.Errorf("Cursors changed after overflow: got %s, want %s", got, before)
	}

	if _, err := b.Reserve(-1); err == nil {
		t.Error("Reserve(-1): got nil error, want error")
	}

	// The largest allowed reservation still succeeds.
	if _, err := b.Reserve(4); err != nil {
		t.Errorf("Reserve(4): unexpected error: %v", err)
	}
}

func TestClone(t *testing.T) {
	b := buffer.New(12)
	fill(t, b, "xxxxpayload")
	b.Consume(4)

	c := b.Clone()
	if c.Cap() != b.Cap() {
		t.Errorf("Clone Cap: got %d, want %d", c.Cap(), b.Cap())
	}
	checkData(t, c, "payload")

	// The clone starts at the front, so it has room for a full reservation.
	if _, err := c.Reserve(5); err != nil {
		t.Errorf("Clone Reserve: unexpected error: %v", err)
	}

	// Modifying the original does not affect the clone.
	b.Clear()
	checkData(t, c, "payload")
}

func TestNegativeCapacity(t *testing.T) {
	mtest.MustPanic(t, func() { buffer.New(-1) })
}
