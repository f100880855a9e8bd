// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package packet_test

import (
	"errors"
	"io"
	"testing"

	"github.com/creachadair/binder/packet"
	"github.com/google/go-cmp/cmp"
)

func TestBuilder(t *testing.T) {
	var b packet.Builder
	b.Bool(true)
	b.Put(5, 9, 100)
	b.Uint8(7)
	b.Uint16(5000)
	b.Uint32(0xfc009a01)
	if err := b.CString("apple", 16); err != nil {
		t.Fatalf("CString: unexpected error: %v", err)
	}
	if err := b.CString("", 0); err != nil {
		t.Fatalf("CString: unexpected error: %v", err)
	}
	b.PutString("xyzzy")

	const want = "\x01\x05\x09\x64\x07\x13\x88\xfc\x00\x9a\x01apple\x00\x00xyzzy"
	//             ^   ^---^---^-- ^-- ^-----  ^-------------- ^------ ^-- ^----
	//          bool  byte*3     uint8 uint16  uint32          cstring ""  literal

	if n := b.Len(); n != len(want) {
		t.Errorf("Len = %d, want %d", n, len(want))
	}
	if string(b.Bytes()) != want {
		t.Errorf("Bytes = %q, want %q", b.Bytes(), want)
	}

	s := packet.NewScanner(b.Bytes())
	check(t, "Bool", s.Bool, true)
	check(t, "Byte 1", s.Byte, 5)
	check(t, "Byte 2", s.Byte, 9)
	check(t, "Byte 3", s.Byte, 100)
	check(t, "Byte 4", s.Byte, 7)
	check(t, "Uint16", s.Uint16, 5000)
	check(t, "Uint32", s.Uint32, 0xfc009a01)
	check(t, "CString", func() (string, error) { return s.CString(16) }, "apple")
	check(t, "Empty", func() (string, error) { return s.CString(1) }, "")
	check(t, "Literal", func() (string, error) { return packet.Get[string](s, 5) }, "xyzzy")

	if err := s.Done(); err != nil {
		t.Errorf("Extra data at EOF (%d bytes): %q", s.Len(), s.Rest())
	}

	b.Reset()
	if b.Len() != 0 {
		t.Errorf("Len after reset = %d, want 0", b.Len())
	}
}

func TestCStringLimits(t *testing.T) {
	b := packet.NewBuilder([]byte("prefix:"))
	if err := b.CString("too long", 8); !errors.Is(err, packet.ErrFieldTooLong) {
		t.Errorf("CString: got %v, want %v", err, packet.ErrFieldTooLong)
	}
	if err := b.CString("a\x00b", 0); err == nil {
		t.Error("CString with NUL: got nil, want error")
	}
	if got := string(b.Bytes()); got != "prefix:" {
		t.Errorf("Builder modified after error: %q", got)
	}

	s := packet.NewScanner("abcdef\x00")
	if _, err := s.CString(4); !errors.Is(err, packet.ErrFieldTooLong) {
		t.Errorf("CString(4): got %v, want %v", err, packet.ErrFieldTooLong)
	}
	if s.Offset() != 0 {
		t.Errorf("Offset after error: got %d, want 0", s.Offset())
	}

	u := packet.NewScanner("no terminator")
	if _, err := u.CString(0); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("CString: got %v, want %v", err, io.ErrUnexpectedEOF)
	}
}

func TestTruncated(t *testing.T) {
	s := packet.NewScanner("\x01\x02\x03")
	if _, err := s.Uint32(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Uint32: got %v, want %v", err, io.ErrUnexpectedEOF)
	}
	check(t, "Uint16", s.Uint16, 0x0102)
	got, err := packet.Get[[]byte](s, 4)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Get: got %v, want %v", err, io.ErrUnexpectedEOF)
	}
	if string(got) != "\x03" {
		t.Errorf("Get partial: got %q, want %q", got, "\x03")
	}
	if err := s.Done(); err == nil {
		t.Error("Done: got nil, want error for trailing data")
	}
}

func check[T any](t *testing.T, label string, f func() (T, error), want T) {
	t.Helper()

	got, err := f()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", label, err)
	} else if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("%s result (-got, +want):\n%s", label, diff)
	}
}
