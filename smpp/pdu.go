// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package smpp

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/packet"
)

// Maximum encoded lengths of C-octet string fields, including the terminator.
const (
	maxSystemID     = 31
	maxPassword     = 31
	maxSystemType   = 13
	maxAddressRange = 41
	maxServiceType  = 6
	maxAddr         = 21
	maxTime         = 17
	maxMessageID    = 65
)

// MaxShortMessage is the maximum length of a short message body.
const MaxShortMessage = 254

// InterfaceVersion34 is the interface version reported for SMPP v3.4.
const InterfaceVersion34 = 0x34

// A BindType says which directions of traffic a bound session carries. The
// bind type selects the command ID of bind requests and responses.
type BindType byte

// Bind types.
const (
	BindTransceiver BindType = iota
	BindTransmitter
	BindReceiver
)

func (b BindType) String() string {
	switch b {
	case BindTransceiver:
		return "transceiver"
	case BindTransmitter:
		return "transmitter"
	case BindReceiver:
		return "receiver"
	}
	return fmt.Sprintf("BindType(%d)", byte(b))
}

func (b BindType) commandID() uint32 {
	switch b {
	case BindTransmitter:
		return CmdBindTransmitter
	case BindReceiver:
		return CmdBindReceiver
	}
	return CmdBindTransceiver
}

// A TLV is an optional parameter of a PDU. Parameters are carried opaquely.
type TLV struct {
	Tag   uint16
	Value []byte
}

// BindRequest is a bind_transmitter, bind_receiver, or bind_transceiver
// request, according to its BindType.
type BindRequest struct {
	BindType         BindType
	SystemID         string
	Password         string
	SystemType       string
	InterfaceVersion byte
	AddrTON          byte
	AddrNPI          byte
	AddressRange     string
}

func (b *BindRequest) CommandID() uint32 { return b.BindType.commandID() }
func (b *BindRequest) Identity() string  { return b.SystemID }

// BindResponse answers a BindRequest.
type BindResponse struct {
	BindType BindType
	SystemID string
	Params   []TLV
}

func (b *BindResponse) CommandID() uint32 { return b.BindType.commandID() | responseBit }
func (b *BindResponse) Identity() string  { return b.SystemID }

// SubmitSM is a submit_sm request, carrying a short message from a client to
// the gateway.
type SubmitSM struct {
	ServiceType          string
	SourceAddrTON        byte
	SourceAddrNPI        byte
	SourceAddr           string
	DestAddrTON          byte
	DestAddrNPI          byte
	DestAddr             string
	ESMClass             byte
	ProtocolID           byte
	PriorityFlag         byte
	ScheduleDeliveryTime string
	ValidityPeriod       string
	RegisteredDelivery   byte
	ReplaceIfPresent     bool
	DataCoding           byte
	SMDefaultMsgID       byte
	ShortMessage         string
	Params               []TLV
}

func (*SubmitSM) CommandID() uint32 { return CmdSubmitSM }

// DeliverSM is a deliver_sm request, carrying a short message or a delivery
// report from the gateway to a client. Its body has the same layout as
// submit_sm.
type DeliverSM SubmitSM

func (*DeliverSM) CommandID() uint32 { return CmdDeliverSM }

// SubmitSMResp answers a SubmitSM.
type SubmitSMResp struct {
	MessageID string
}

func (*SubmitSMResp) CommandID() uint32 { return CmdSubmitSMResp }

// DeliverSMResp answers a DeliverSM.
type DeliverSMResp struct {
	MessageID string
}

func (*DeliverSMResp) CommandID() uint32 { return CmdDeliverSMResp }

// GenericNack reports a request that could not be processed.
type GenericNack struct{}

func (GenericNack) CommandID() uint32 { return CmdGenericNack }

// Codec implements the [binder.Codec] interface for SMPP PDUs.
type Codec struct{}

// Decode implements a method of the [binder.Codec] interface. The bodies of
// bind and message responses may be empty, as is usual for a response with
// an error status.
func (Codec) Decode(id uint32, body []byte) (binder.PDU, error) {
	s := packet.NewScanner(body)
	switch id {
	case CmdBindTransceiver, CmdBindTransmitter, CmdBindReceiver:
		req, err := decodeBind(s, bindTypeOf(id))
		if err != nil {
			return nil, fmt.Errorf("bind: %w", err)
		}
		return req, nil
	case CmdBindTransceiverResp, CmdBindTransmitterResp, CmdBindReceiverResp:
		rsp := &BindResponse{BindType: bindTypeOf(id &^ responseBit)}
		if s.Len() == 0 {
			return rsp, nil
		}
		var err error
		if rsp.SystemID, err = s.CString(maxSystemID); err != nil {
			return nil, fmt.Errorf("system_id: %w", err)
		}
		if rsp.Params, err = decodeTLVs(s); err != nil {
			return nil, err
		}
		return rsp, nil
	case CmdSubmitSM:
		var m SubmitSM
		if err := decodeMessage(s, &m); err != nil {
			return nil, fmt.Errorf("submit_sm: %w", err)
		}
		return &m, nil
	case CmdDeliverSM:
		var m SubmitSM
		if err := decodeMessage(s, &m); err != nil {
			return nil, fmt.Errorf("deliver_sm: %w", err)
		}
		return (*DeliverSM)(&m), nil
	case CmdSubmitSMResp:
		msgID, err := decodeMessageID(s)
		if err != nil {
			return nil, fmt.Errorf("submit_sm_resp: %w", err)
		}
		return &SubmitSMResp{MessageID: msgID}, nil
	case CmdDeliverSMResp:
		msgID, err := decodeMessageID(s)
		if err != nil {
			return nil, fmt.Errorf("deliver_sm_resp: %w", err)
		}
		return &DeliverSMResp{MessageID: msgID}, nil
	case CmdGenericNack:
		if err := s.Done(); err != nil {
			return nil, fmt.Errorf("generic_nack: %w", err)
		}
		return GenericNack{}, nil
	}
	return nil, fmt.Errorf("smpp command %#x: %w", id, binder.ErrUnknownCommand)
}

// Encode implements a method of the [binder.Codec] interface.
func (Codec) Encode(buf []byte, pdu binder.PDU) ([]byte, error) {
	b := packet.NewBuilder(buf)
	var err error
	switch t := pdu.(type) {
	case *BindRequest:
		err = errors.Join(
			b.CString(t.SystemID, maxSystemID),
			b.CString(t.Password, maxPassword),
			b.CString(t.SystemType, maxSystemType),
		)
		b.Put(t.InterfaceVersion, t.AddrTON, t.AddrNPI)
		err = errors.Join(err, b.CString(t.AddressRange, maxAddressRange))
	case *BindResponse:
		err = b.CString(t.SystemID, maxSystemID)
		encodeTLVs(b, t.Params)
	case *SubmitSM:
		err = encodeMessage(b, t)
	case *DeliverSM:
		err = encodeMessage(b, (*SubmitSM)(t))
	case *SubmitSMResp:
		err = b.CString(t.MessageID, maxMessageID)
	case *DeliverSMResp:
		err = b.CString(t.MessageID, maxMessageID)
	case GenericNack, *GenericNack:
		// empty body
	default:
		return nil, fmt.Errorf("smpp: cannot encode %T", pdu)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", pdu, err)
	}
	return b.Bytes(), nil
}

func bindTypeOf(id uint32) BindType {
	switch id {
	case CmdBindTransmitter:
		return BindTransmitter
	case CmdBindReceiver:
		return BindReceiver
	}
	return BindTransceiver
}

func decodeBind(s *packet.Scanner, bt BindType) (*BindRequest, error) {
	req := &BindRequest{BindType: bt}
	var err error
	if req.SystemID, err = s.CString(maxSystemID); err != nil {
		return nil, fmt.Errorf("system_id: %w", err)
	}
	if req.Password, err = s.CString(maxPassword); err != nil {
		return nil, fmt.Errorf("password: %w", err)
	}
	if req.SystemType, err = s.CString(maxSystemType); err != nil {
		return nil, fmt.Errorf("system_type: %w", err)
	}
	fixed, err := packet.Get[[]byte](s, 3)
	if err != nil {
		return nil, fmt.Errorf("address fields: %w", err)
	}
	req.InterfaceVersion, req.AddrTON, req.AddrNPI = fixed[0], fixed[1], fixed[2]
	if req.AddressRange, err = s.CString(maxAddressRange); err != nil {
		return nil, fmt.Errorf("address_range: %w", err)
	}
	if err := s.Done(); err != nil {
		return nil, err
	}
	return req, nil
}

func decodeMessageID(s *packet.Scanner) (string, error) {
	if s.Len() == 0 {
		return "", nil
	}
	id, err := s.CString(maxMessageID)
	if err != nil {
		return "", fmt.Errorf("message_id: %w", err)
	}
	return id, s.Done()
}

func encodeMessage(b *packet.Builder, m *SubmitSM) error {
	if len(m.ShortMessage) > MaxShortMessage {
		return fmt.Errorf("short_message of %d bytes exceeds %d: %w",
			len(m.ShortMessage), MaxShortMessage, packet.ErrFieldTooLong)
	}
	if err := b.CString(m.ServiceType, maxServiceType); err != nil {
		return fmt.Errorf("service_type: %w", err)
	}
	b.Put(m.SourceAddrTON, m.SourceAddrNPI)
	if err := b.CString(m.SourceAddr, maxAddr); err != nil {
		return fmt.Errorf("source_addr: %w", err)
	}
	b.Put(m.DestAddrTON, m.DestAddrNPI)
	if err := b.CString(m.DestAddr, maxAddr); err != nil {
		return fmt.Errorf("destination_addr: %w", err)
	}
	b.Put(m.ESMClass, m.ProtocolID, m.PriorityFlag)
	if err := b.CString(m.ScheduleDeliveryTime, maxTime); err != nil {
		return fmt.Errorf("schedule_delivery_time: %w", err)
	}
	if err := b.CString(m.ValidityPeriod, maxTime); err != nil {
		return fmt.Errorf("validity_period: %w", err)
	}
	b.Uint8(m.RegisteredDelivery)
	b.Bool(m.ReplaceIfPresent)
	b.Put(m.DataCoding, m.SMDefaultMsgID)
	b.Uint8(uint8(len(m.ShortMessage)))
	b.PutString(m.ShortMessage)
	encodeTLVs(b, m.Params)
	return nil
}

func decodeMessage(s *packet.Scanner, m *SubmitSM) error {
	var err error
	if m.ServiceType, err = s.CString(maxServiceType); err != nil {
		return fmt.Errorf("service_type: %w", err)
	}
	if m.SourceAddrTON, m.SourceAddrNPI, err = twoBytes(s); err != nil {
		return fmt.Errorf("source address: %w", err)
	}
	if m.SourceAddr, err = s.CString(maxAddr); err != nil {
		return fmt.Errorf("source_addr: %w", err)
	}
	if m.DestAddrTON, m.DestAddrNPI, err = twoBytes(s); err != nil {
		return fmt.Errorf("destination address: %w", err)
	}
	if m.DestAddr, err = s.CString(maxAddr); err != nil {
		return fmt.Errorf("destination_addr: %w", err)
	}
	flags, err := packet.Get[[]byte](s, 3)
	if err != nil {
		return fmt.Errorf("message flags: %w", err)
	}
	m.ESMClass, m.ProtocolID, m.PriorityFlag = flags[0], flags[1], flags[2]
	if m.ScheduleDeliveryTime, err = s.CString(maxTime); err != nil {
		return fmt.Errorf("schedule_delivery_time: %w", err)
	}
	if m.ValidityPeriod, err = s.CString(maxTime); err != nil {
		return fmt.Errorf("validity_period: %w", err)
	}
	if m.RegisteredDelivery, err = s.Byte(); err != nil {
		return fmt.Errorf("registered_delivery: %w", err)
	}
	if m.ReplaceIfPresent, err = s.Bool(); err != nil {
		return fmt.Errorf("replace_if_present_flag: %w", err)
	}
	if m.DataCoding, m.SMDefaultMsgID, err = twoBytes(s); err != nil {
		return fmt.Errorf("data coding: %w", err)
	}
	n, err := s.Byte()
	if err != nil {
		return fmt.Errorf("sm_length: %w", err)
	} else if n > MaxShortMessage {
		return fmt.Errorf("sm_length %d exceeds %d: %w", n, MaxShortMessage, packet.ErrFieldTooLong)
	}
	if m.ShortMessage, err = packet.Get[string](s, int(n)); err != nil {
		return fmt.Errorf("short_message: %w", err)
	}
	m.Params, err = decodeTLVs(s)
	return err
}

func twoBytes(s *packet.Scanner) (byte, byte, error) {
	v, err := packet.Get[[]byte](s, 2)
	if err != nil {
		return 0, 0, err
	}
	return v[0], v[1], nil
}

func encodeTLVs(b *packet.Builder, tlvs []TLV) {
	for _, p := range tlvs {
		b.Uint16(p.Tag)
		b.Uint16(uint16(len(p.Value)))
		b.Put(p.Value...)
	}
}

func decodeTLVs(s *packet.Scanner) ([]TLV, error) {
	var out []TLV
	for s.Len() > 0 {
		tag, err := s.Uint16()
		if err != nil {
			return nil, fmt.Errorf("tlv tag: %w", err)
		}
		n, err := s.Uint16()
		if err != nil {
			return nil, fmt.Errorf("tlv %#04x length: %w", tag, err)
		}
		v, err := packet.Get[[]byte](s, int(n))
		if err != nil {
			return nil, fmt.Errorf("tlv %#04x value: %w", tag, err)
		}
		out = append(out, TLV{Tag: tag, Value: bytes.Clone(v)})
	}
	return out, nil
}
