// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package buffer implements a fixed-capacity receive buffer for framed
// streams.
//
// A [Buffer] holds a contiguous run of unread bytes followed by free space.
// Callers reserve free space, read into it from a transport, commit the bytes
// actually received, and consume complete frames from the front:
//
//	buf, err := b.Reserve(64 << 10)
//	if err != nil {
//	   return err // the unread data already fill the buffer
//	}
//	n, err := conn.Read(buf)
//	b.Commit(n)
//	for frameComplete(b.Data()) {
//	   b.Consume(frameLen(b.Data()))
//	}
//
// The buffer never grows. When the free space at the tail is too short for a
// reservation, the unread bytes are moved to the front to make room.
package buffer

import (
	"errors"
	"fmt"
)

// ErrOverflow is reported by [Buffer.Reserve] when the unread data plus the
// requested space exceed the capacity of the buffer.
var ErrOverflow = errors.New("buffer: overflow")

// A Buffer is a fixed-capacity byte buffer with separate read, write, and
// reserve cursors. The zero value is a valid buffer with capacity 0.
//
// A Buffer is not safe for concurrent use without external synchronization.
type Buffer struct {
	buf  []byte
	rpos int // offset of the first unread byte
	wpos int // offset of the first unwritten byte
	rend int // end of the current reservation; wpos ≤ rend ≤ len(buf)
}

// New constructs an empty buffer with the given capacity in bytes.
func New(capacity int) *Buffer {
	if capacity < 0 {
		panic("buffer: negative capacity")
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Cap reports the total capacity of b in bytes.
func (b *Buffer) Cap() int { return len(b.buf) }

// Len reports the number of unread bytes in b.
func (b *Buffer) Len() int { return b.wpos - b.rpos }

// Available reports the largest reservation b can currently satisfy.
func (b *Buffer) Available() int { return len(b.buf) - b.Len() }

// Data returns the unread contents of b. The slice aliases the buffer and is
// only valid until the next call to Reserve, Consume, or Clear.
func (b *Buffer) Data() []byte { return b.buf[b.rpos:b.wpos] }

// Reserve returns a writable region of exactly n bytes following the unread
// data in b. If the tail of the buffer is too short, the unread bytes are
// first moved to the start of the buffer. If the unread bytes plus n would
// exceed the capacity, Reserve reports [ErrOverflow] and b is not modified.
//
// A new reservation replaces any earlier one that was not committed.
func (b *Buffer) Reserve(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("buffer: invalid reservation size %d", n)
	} else if n > b.Available() {
		return nil, fmt.Errorf("reserve %d bytes with %d unread of %d: %w", n, b.Len(), len(b.buf), ErrOverflow)
	}
	if len(b.buf)-b.wpos < n {
		b.compact()
	}
	b.rend = b.wpos + n
	return b.buf[b.wpos:b.rend:b.rend], nil
}

func (b *Buffer) compact() {
	n := copy(b.buf, b.buf[b.rpos:b.wpos])
	b.rpos, b.wpos = 0, n
}

// Commit marks the first n bytes of the current reservation as written, making
// them visible to Data. If n exceeds the reservation, only the reserved bytes
// are committed. Commit ends the reservation.
func (b *Buffer) Commit(n int) {
	if n > 0 {
		b.wpos += min(n, b.rend-b.wpos)
	}
	b.rend = b.wpos
}

// Consume discards the first n unread bytes of b. If n exceeds the unread
// length, all unread bytes are discarded. When the buffer becomes empty the
// cursors return to the start of the buffer.
func (b *Buffer) Consume(n int) {
	if n <= 0 {
		return
	}
	b.rpos += min(n, b.Len())
	if b.rpos == b.wpos {
		b.rpos, b.wpos, b.rend = 0, 0, 0
	}
}

// Clear discards all unread data and any reservation.
func (b *Buffer) Clear() { b.rpos, b.wpos, b.rend = 0, 0, 0 }

// Clone returns a new buffer with the same capacity as b, whose contents are
// a copy of the unread data of b placed at the start of the new buffer.
func (b *Buffer) Clone() *Buffer {
	c := New(len(b.buf))
	c.wpos = copy(c.buf, b.Data())
	c.rend = c.wpos
	return c
}

// String returns a human-readable summary of the buffer cursors.
func (b *Buffer) String() string {
	return fmt.Sprintf("Buffer(read=%d, write=%d, cap=%d)", b.rpos, b.wpos, len(b.buf))
}
