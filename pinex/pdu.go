// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package pinex

import (
	"fmt"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/packet"
)

// MaxSystemIDLen is the maximum length of a system ID, not counting the
// terminator.
const MaxSystemIDLen = 15

// A BindType says which directions of traffic a bound session carries.
type BindType byte

// Bind types.
const (
	BindBidirectional BindType = 0
	BindSendOnly      BindType = 1
	BindReceiveOnly   BindType = 2
)

// BindRequest asks the server to bind a session.
type BindRequest struct {
	BindType BindType
	SystemID string
}

func (*BindRequest) CommandID() uint32 { return CmdBind }
func (b *BindRequest) Identity() string { return b.SystemID }
func (b *BindRequest) String() string { return fmt.Sprintf("bind(%q, type=%d)", b.SystemID, b.BindType) }

// BindResponse answers a BindRequest.
type BindResponse struct {
	BindType BindType
	SystemID string // of the server
}

func (*BindResponse) CommandID() uint32 { return CmdBindResp }
func (b *BindResponse) Identity() string { return b.SystemID }
func (b *BindResponse) String() string { return fmt.Sprintf("bind_resp(%q)", b.SystemID) }

// StreamRequest carries an opaque message body.
type StreamRequest struct {
	Body string
}

func (*StreamRequest) CommandID() uint32 { return CmdStream }

// StreamResponse answers a StreamRequest with an opaque message body.
type StreamResponse struct {
	Body string
}

func (*StreamResponse) CommandID() uint32 { return CmdStreamResp }

// Codec implements the [binder.Codec] interface for PINEX PDUs.
type Codec struct{}

// Decode implements a method of the [binder.Codec] interface.
func (Codec) Decode(id uint32, body []byte) (binder.PDU, error) {
	s := packet.NewScanner(body)
	switch id {
	case CmdBind, CmdBindResp:
		bt, err := s.Byte()
		if err != nil {
			return nil, fmt.Errorf("bind type: %w", err)
		}
		sysID, err := s.CString(MaxSystemIDLen + 1)
		if err != nil {
			return nil, fmt.Errorf("system ID: %w", err)
		} else if err := s.Done(); err != nil {
			return nil, err
		}
		if id == CmdBind {
			return &BindRequest{BindType: BindType(bt), SystemID: sysID}, nil
		}
		return &BindResponse{BindType: BindType(bt), SystemID: sysID}, nil

	case CmdStream:
		return &StreamRequest{Body: string(body)}, nil
	case CmdStreamResp:
		return &StreamResponse{Body: string(body)}, nil
	}
	return nil, fmt.Errorf("pinex command %#x: %w", id, binder.ErrUnknownCommand)
}

// Encode implements a method of the [binder.Codec] interface.
func (Codec) Encode(buf []byte, pdu binder.PDU) ([]byte, error) {
	b := packet.NewBuilder(buf)
	switch t := pdu.(type) {
	case *BindRequest:
		b.Uint8(byte(t.BindType))
		if err := b.CString(t.SystemID, MaxSystemIDLen+1); err != nil {
			return nil, fmt.Errorf("system ID: %w", err)
		}
	case *BindResponse:
		b.Uint8(byte(t.BindType))
		if err := b.CString(t.SystemID, MaxSystemIDLen+1); err != nil {
			return nil, fmt.Errorf("system ID: %w", err)
		}
	case *StreamRequest:
		b.PutString(t.Body)
	case *StreamResponse:
		b.PutString(t.Body)
	default:
		return nil, fmt.Errorf("pinex: cannot encode %T", pdu)
	}
	return b.Bytes(), nil
}
