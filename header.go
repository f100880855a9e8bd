// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package binder

import (
	"encoding/binary"
	"fmt"
)

// A Header is the fixed-size prefix of every frame.
type Header struct {
	Length    uint32 // total frame length in bytes, including the header
	CommandID uint32 // identifies the PDU type; responses have the response bit set
	Status    uint32 // command status; meaningful for responses
	Sequence  uint32 // correlates a response with its request
}

func (h Header) String() string {
	return fmt.Sprintf("Header(len=%d, id=%#x, status=%#x, seq=%d)", h.Length, h.CommandID, h.Status, h.Sequence)
}

// A HeaderFormat describes the wire layout of a frame header. The length and
// sequence fields are always 4 bytes; the widths of the command ID and status
// fields vary by protocol. All fields are big-endian, in the order length,
// command ID, status, sequence.
type HeaderFormat struct {
	IDWidth     int    // width of the command ID field: 1, 2, or 4 bytes
	StatusWidth int    // width of the status field: 1, 2, or 4 bytes
	ResponseBit uint32 // set in the command ID of every response
}

// Size reports the encoded size of a header in bytes.
func (f HeaderFormat) Size() int { return 8 + f.IDWidth + f.StatusWidth }

// IsResponse reports whether id denotes a response PDU.
func (f HeaderFormat) IsResponse(id uint32) bool { return id&f.ResponseBit != 0 }

// Validate reports an error if f is not a usable header format.
func (f HeaderFormat) Validate() error {
	if !validWidth(f.IDWidth) {
		return fmt.Errorf("invalid command ID width %d", f.IDWidth)
	} else if !validWidth(f.StatusWidth) {
		return fmt.Errorf("invalid status width %d", f.StatusWidth)
	} else if f.ResponseBit == 0 || f.ResponseBit&(f.ResponseBit-1) != 0 {
		return fmt.Errorf("response bit %#x is not a single bit", f.ResponseBit)
	} else if f.ResponseBit > fieldMax(f.IDWidth) {
		return fmt.Errorf("response bit %#x does not fit in %d bytes", f.ResponseBit, f.IDWidth)
	}
	return nil
}

func validWidth(w int) bool { return w == 1 || w == 2 || w == 4 }

func fieldMax(w int) uint32 { return uint32(1<<(8*uint(w)) - 1) }

// Decode decodes a header from the front of buf. It reports an error if buf
// is shorter than f.Size().
func (f HeaderFormat) Decode(buf []byte) (Header, error) {
	if len(buf) < f.Size() {
		return Header{}, fmt.Errorf("header truncated (%d < %d bytes)", len(buf), f.Size())
	}
	var h Header
	h.Length = binary.BigEndian.Uint32(buf)
	buf = buf[4:]
	h.CommandID, buf = getField(buf, f.IDWidth)
	h.Status, buf = getField(buf, f.StatusWidth)
	h.Sequence = binary.BigEndian.Uint32(buf)
	return h, nil
}

// Append appends the encoding of h to buf and returns the updated slice.
// Values too large for the command ID or status fields are truncated.
func (f HeaderFormat) Append(buf []byte, h Header) []byte {
	buf = binary.BigEndian.AppendUint32(buf, h.Length)
	buf = appendField(buf, f.IDWidth, h.CommandID)
	buf = appendField(buf, f.StatusWidth, h.Status)
	return binary.BigEndian.AppendUint32(buf, h.Sequence)
}

// Put writes the encoding of h into the first f.Size() bytes of buf.
func (f HeaderFormat) Put(buf []byte, h Header) { f.Append(buf[:0:f.Size()], h) }

func getField(buf []byte, w int) (uint32, []byte) {
	switch w {
	case 1:
		return uint32(buf[0]), buf[1:]
	case 2:
		return uint32(binary.BigEndian.Uint16(buf)), buf[2:]
	default:
		return binary.BigEndian.Uint32(buf), buf[4:]
	}
}

func appendField(buf []byte, w int, v uint32) []byte {
	switch w {
	case 1:
		return append(buf, byte(v))
	case 2:
		return binary.BigEndian.AppendUint16(buf, uint16(v))
	default:
		return binary.BigEndian.AppendUint32(buf, v)
	}
}
