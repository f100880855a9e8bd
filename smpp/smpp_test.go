// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package smpp_test

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/packet"
	"github.com/creachadair/binder/smpp"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestProtocol(t *testing.T) {
	if err := smpp.Protocol.Validate(); err != nil {
		t.Fatalf("Validate: unexpected error: %v", err)
	}
	if got := smpp.Protocol.Header.Size(); got != 16 {
		t.Errorf("Header size: got %d, want 16", got)
	}
	if !smpp.Protocol.IsResponse(smpp.GenericNack{}) {
		t.Error("IsResponse(generic_nack): got false, want true")
	}
	if smpp.Protocol.IsResponse(&smpp.SubmitSM{}) {
		t.Error("IsResponse(submit_sm): got true, want false")
	}
}

func TestHeader(t *testing.T) {
	f := smpp.Protocol.Header
	h := binder.Header{Length: 16, CommandID: smpp.CmdEnquireLink, Status: 0, Sequence: 0x7FFFFFFF}
	const want = "\x00\x00\x00\x10\x00\x00\x00\x15\x00\x00\x00\x00\x7f\xff\xff\xff"
	if got := string(f.Append(nil, h)); got != want {
		t.Errorf("Append: got %q, want %q", got, want)
	}
	got, err := f.Decode([]byte(want))
	if err != nil {
		t.Fatalf("Decode: unexpected error: %v", err)
	}
	if got != h {
		t.Errorf("Decode: got %v, want %v", got, h)
	}
}

func TestCodec(t *testing.T) {
	msg := smpp.SubmitSM{
		ServiceType:        "CMT",
		SourceAddrTON:      5,
		SourceAddr:         "ACME",
		DestAddrTON:        1,
		DestAddrNPI:        1,
		DestAddr:           "989120000000",
		ESMClass:           0x40,
		RegisteredDelivery: 1,
		ReplaceIfPresent:   true,
		DataCoding:         8,
		ShortMessage:       "\x00h\x00i",
		Params:             []smpp.TLV{{Tag: 0x0424, Value: []byte("payload")}},
	}
	dlr := smpp.DeliverSM(msg)
	dlr.Params = nil
	tests := []binder.PDU{
		&smpp.BindRequest{
			BindType:         smpp.BindTransmitter,
			SystemID:         "esme",
			Password:         "secret",
			InterfaceVersion: smpp.InterfaceVersion34,
			AddressRange:     "^98",
		},
		&smpp.BindRequest{SystemID: "trx"},
		&smpp.BindRequest{BindType: smpp.BindReceiver},
		&smpp.BindResponse{BindType: smpp.BindReceiver, SystemID: "smsc"},
		&smpp.BindResponse{SystemID: "smsc", Params: []smpp.TLV{{Tag: 0x0210, Value: []byte{0x34}}}},
		&msg,
		&dlr,
		&smpp.SubmitSMResp{MessageID: "0a1b2c"},
		&smpp.DeliverSMResp{},
		smpp.GenericNack{},
	}
	var c smpp.Codec
	for _, pdu := range tests {
		body, err := c.Encode(nil, pdu)
		if err != nil {
			t.Errorf("Encode %T: unexpected error: %v", pdu, err)
			continue
		}
		got, err := c.Decode(pdu.CommandID(), body)
		if err != nil {
			t.Errorf("Decode %T: unexpected error: %v", pdu, err)
			continue
		}
		if diff := cmp.Diff(pdu, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("Decode %T (-want, +got):\n%s", pdu, diff)
		}
	}
}

func TestBindCommandIDs(t *testing.T) {
	tests := []struct {
		bt       smpp.BindType
		req, rsp uint32
	}{
		{smpp.BindTransceiver, smpp.CmdBindTransceiver, smpp.CmdBindTransceiverResp},
		{smpp.BindTransmitter, smpp.CmdBindTransmitter, smpp.CmdBindTransmitterResp},
		{smpp.BindReceiver, smpp.CmdBindReceiver, smpp.CmdBindReceiverResp},
	}
	for _, tc := range tests {
		if got := (&smpp.BindRequest{BindType: tc.bt}).CommandID(); got != tc.req {
			t.Errorf("%v request: got %#x, want %#x", tc.bt, got, tc.req)
		}
		rsp := smpp.Protocol.BindResponse(&smpp.BindRequest{BindType: tc.bt}, "gw")
		if got := rsp.CommandID(); got != tc.rsp {
			t.Errorf("%v response: got %#x, want %#x", tc.bt, got, tc.rsp)
		}
	}
}

func TestEmptyResponses(t *testing.T) {
	var c smpp.Codec
	for _, id := range []uint32{smpp.CmdBindTransceiverResp, smpp.CmdSubmitSMResp, smpp.CmdDeliverSMResp} {
		pdu, err := c.Decode(id, nil)
		if err != nil {
			t.Errorf("Decode(%#x, empty): unexpected error: %v", id, err)
		} else if pdu.CommandID() != id {
			t.Errorf("Decode(%#x, empty): got command %#x", id, pdu.CommandID())
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	var c smpp.Codec
	tests := []struct {
		id   uint32
		body string
		want error
	}{
		{0x00000003, "", binder.ErrUnknownCommand}, // query_sm
		{smpp.CmdBindTransceiver, "esme\x00pw\x00", io.ErrUnexpectedEOF},
		{smpp.CmdBindTransceiver, strings.Repeat("x", 40) + "\x00", packet.ErrFieldTooLong},
		{smpp.CmdSubmitSM, "\x00\x01\x01src\x00", io.ErrUnexpectedEOF},
		{smpp.CmdSubmitSMResp, "id", io.ErrUnexpectedEOF},
		{smpp.CmdGenericNack, "junk", nil},
	}
	for _, tc := range tests {
		_, err := c.Decode(tc.id, []byte(tc.body))
		if err == nil {
			t.Errorf("Decode(%#x, %q): got nil error, want %v", tc.id, tc.body, tc.want)
		} else if tc.want != nil && !errors.Is(err, tc.want) {
			t.Errorf("Decode(%#x, %q): got %v, want %v", tc.id, tc.body, err, tc.want)
		}
	}
}

func TestEncodeErrors(t *testing.T) {
	var c smpp.Codec
	long := &smpp.SubmitSM{ShortMessage: strings.Repeat("x", smpp.MaxShortMessage+1)}
	if _, err := c.Encode(nil, long); !errors.Is(err, packet.ErrFieldTooLong) {
		t.Errorf("Encode long message: got %v, want %v", err, packet.ErrFieldTooLong)
	}
	bad := &smpp.BindRequest{SystemID: strings.Repeat("s", 31)}
	if _, err := c.Encode(nil, bad); !errors.Is(err, packet.ErrFieldTooLong) {
		t.Errorf("Encode long system_id: got %v, want %v", err, packet.ErrFieldTooLong)
	}
}
