// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

// Package packet provides support for encoding and decoding binary PDU bodies.
//
// Integers are encoded in big-endian order. Strings are encoded either as
// C-octet strings (terminated by a single zero byte) or as raw bytes whose
// length is implied by the enclosing frame.
package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/creachadair/mds/value"
)

// ErrFieldTooLong is reported when a C-octet string exceeds its maximum
// permitted length.
var ErrFieldTooLong = errors.New("packet: field too long")

// A Builder is a buffer that accumulates data into a packet. The zero value is
// ready for use as an empty builder.
type Builder struct {
	buf []byte
}

// NewBuilder constructs a [Builder] that appends to buf.
func NewBuilder(buf []byte) *Builder { return &Builder{buf: buf} }

// Bool appends a Boolean to b. The encoding is a single byte with value 0 or 1.
func (b *Builder) Bool(ok bool) { b.Put(value.Cond[byte](ok, 1, 0)) }

// Put appends the specified bytes to v in order.
func (b *Builder) Put(vs ...byte) { b.buf = append(b.buf, vs...) }

// PutString appends the specified string to v.
func (b *Builder) PutString(s string) { b.buf = append(b.buf, s...) }

// Uint8 appends v to b.
func (b *Builder) Uint8(v uint8) { b.buf = append(b.buf, v) }

// Uint16 appends v to b in big-endian order.
func (b *Builder) Uint16(v uint16) { b.buf = binary.BigEndian.AppendUint16(b.buf, v) }

// Uint32 appends v to b in big-endian order.
func (b *Builder) Uint32(v uint32) { b.buf = binary.BigEndian.AppendUint32(b.buf, v) }

// CString appends s to b as a C-octet string, followed by a zero byte.
// If s contains a zero byte, or if limit > 0 and the encoded length including
// the terminator exceeds limit, CString reports an error and b is unchanged.
func (b *Builder) CString(s string, limit int) error {
	if limit > 0 && len(s)+1 > limit {
		return fmt.Errorf("string of %d bytes exceeds %d: %w", len(s), limit-1, ErrFieldTooLong)
	} else if i := bytes.IndexByte([]byte(s), 0); i >= 0 {
		return fmt.Errorf("string contains NUL at offset %d", i)
	}
	b.Grow(len(s) + 1)
	b.buf = append(append(b.buf, s...), 0)
	return nil
}

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes reports the current contents of the buffer. The builder retains ownership
// of the reported slice, and the caller must not retain or modify its contents
// unless b will no longer be accessed.
func (b *Builder) Bytes() []byte { return b.buf }

// Reset discards the contents of b and leaves it empty.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// Grow resizes the internal buffer of b if necessary to ensure that at least n
// more bytes can be added without triggering another allocation.
func (b *Builder) Grow(n int) {
	want := len(b.buf) + n
	if cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}

// A Scanner reads encoded values from the contents of a packet.
// Incomplete values report [io.ErrUnexpectedEOF].
type Scanner struct {
	rest   []byte
	offset int
}

// NewScanner constructs a [Scanner] that consumes data from input.
// The scanner does not modify the contents of input, but retain slices
// into it, so the caller should ensure it is not modified while the scanner
// is in use.
func NewScanner[Str ~string | ~[]byte](input Str) *Scanner {
	return &Scanner{rest: []byte(input)}
}

// Bool scans a single byte from the head of the input and converts it into a
// Boolean value (0 means false, non-zero means true).
func (s *Scanner) Bool() (bool, error) {
	b, err := s.Byte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// Byte scans a single byte from the head of the input.
func (s *Scanner) Byte() (byte, error) {
	if len(s.rest) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	s.offset++
	out := s.rest[0]
	s.rest = s.rest[1:]
	return out, nil
}

// Uint16 parses a big-endian uint16 value from the head of the input.
func (s *Scanner) Uint16() (uint16, error) {
	if len(s.rest) < 2 {
		return 0, fmt.Errorf("value truncated (%d < 2 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	s.offset += 2
	out := binary.BigEndian.Uint16(s.rest[:2])
	s.rest = s.rest[2:]
	return out, nil
}

// Uint32 parses a big-endian uint32 value from the head of the input.
func (s *Scanner) Uint32() (uint32, error) {
	if len(s.rest) < 4 {
		return 0, fmt.Errorf("value truncated (%d < 4 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	s.offset += 4
	out := binary.BigEndian.Uint32(s.rest[:4])
	s.rest = s.rest[4:]
	return out, nil
}

// CString parses a zero-terminated string from the head of the input. If limit
// > 0, the terminator must occur within the first limit bytes. The result does
// not include the terminator.
func (s *Scanner) CString(limit int) (string, error) {
	i := bytes.IndexByte(s.rest, 0)
	if i < 0 {
		return "", fmt.Errorf("unterminated string at offset %d: %w", s.offset, io.ErrUnexpectedEOF)
	} else if limit > 0 && i+1 > limit {
		return "", fmt.Errorf("string at offset %d exceeds %d bytes: %w", s.offset, limit-1, ErrFieldTooLong)
	}
	out := string(s.rest[:i])
	s.offset += i + 1
	s.rest = s.rest[i+1:]
	return out, nil
}

// Len reports the number of remaining unconsumed input bytes in s.
func (s *Scanner) Len() int { return len(s.rest) }

// Offset reports the offset (0-based) of the next unconsumed input byte in s.
func (s *Scanner) Offset() int { return s.offset }

// Rest returns a slice of the remaining unconsumed input of s.
// The reported slice is only valid until the next call to a method of s,
// and the caller must not modify its contents.
func (s *Scanner) Rest() []byte { return s.rest }

// Get returns a string of exactly n bytes from the head of the input.
// If the full requested amount is not available, a partial result is returned
// along with an error.  When the result is a slice, the value aliases the
// input, and the caller must not modify its contents.
func Get[Str ~string | ~[]byte](s *Scanner, n int) (Str, error) {
	if len(s.rest) < n {
		return Str(s.rest), fmt.Errorf("value truncated (%d < %d bytes): %w", len(s.rest), n, io.ErrUnexpectedEOF)
	}
	s.offset += n
	out := Str(s.rest[:n])
	s.rest = s.rest[n:]
	return out, nil
}

// Done reports an error if any input remains unconsumed in s.
func (s *Scanner) Done() error {
	if len(s.rest) != 0 {
		return fmt.Errorf("%d unexpected trailing bytes at offset %d", len(s.rest), s.offset)
	}
	return nil
}
