// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package smpp defines the subset of SMPP v3.4 spoken by the gateway.
//
// SMPP frames have a 16-byte header: a 4-byte length, a 4-byte command ID, a
// 4-byte command status, and a 4-byte sequence number in the range 1 to
// 0x7FFFFFFF. Response command IDs have the high bit set.
//
// Only the PDUs needed to bind, to submit and deliver short messages, and to
// keep a session alive are supported. Other commands are answered with a
// generic_nack by the session.
package smpp

import (
	"time"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/catalog"
)

// Command IDs.
const (
	CmdGenericNack         = 0x80000000
	CmdBindReceiver        = 0x00000001
	CmdBindTransmitter     = 0x00000002
	CmdSubmitSM            = 0x00000004
	CmdDeliverSM           = 0x00000005
	CmdUnbind              = 0x00000006
	CmdBindTransceiver     = 0x00000009
	CmdEnquireLink         = 0x00000015
	CmdBindReceiverResp    = CmdBindReceiver | responseBit
	CmdBindTransmitterResp = CmdBindTransmitter | responseBit
	CmdSubmitSMResp        = CmdSubmitSM | responseBit
	CmdDeliverSMResp       = CmdDeliverSM | responseBit
	CmdUnbindResp          = CmdUnbind | responseBit
	CmdBindTransceiverResp = CmdBindTransceiver | responseBit
	CmdEnquireLinkResp     = CmdEnquireLink | responseBit

	responseBit = 0x80000000
)

// Commands maps the names of SMPP commands to their IDs.
var Commands = catalog.New().
	Set("generic_nack", CmdGenericNack).
	Set("bind_receiver", CmdBindReceiver).
	Set("bind_receiver_resp", CmdBindReceiverResp).
	Set("bind_transmitter", CmdBindTransmitter).
	Set("bind_transmitter_resp", CmdBindTransmitterResp).
	Set("bind_transceiver", CmdBindTransceiver).
	Set("bind_transceiver_resp", CmdBindTransceiverResp).
	Set("submit_sm", CmdSubmitSM).
	Set("submit_sm_resp", CmdSubmitSMResp).
	Set("deliver_sm", CmdDeliverSM).
	Set("deliver_sm_resp", CmdDeliverSMResp).
	Set("unbind", CmdUnbind).
	Set("unbind_resp", CmdUnbindResp).
	Set("enquire_link", CmdEnquireLink).
	Set("enquire_link_resp", CmdEnquireLinkResp)

// Command statuses. Values from 0x400 are gateway-specific.
const (
	StatusOK               = 0x00000000
	StatusInvalidMsgLen    = 0x00000001
	StatusInvalidCmdLen    = 0x00000002
	StatusInvalidCommand   = 0x00000003
	StatusInvalidBindState = 0x00000004
	StatusAlreadyBound     = 0x00000005
	StatusSystemError      = 0x00000008
	StatusInvalidSrcAddr   = 0x0000000A
	StatusInvalidDstAddr   = 0x0000000B
	StatusBindFailed       = 0x0000000D
	StatusInvalidPassword  = 0x0000000E
	StatusInvalidSystemID  = 0x0000000F
	StatusMsgQueueFull     = 0x00000014
	StatusThrottled        = 0x00000058
	StatusUnknownError     = 0x000000FF
	StatusTimeout          = 0x00000401
	StatusSrcNotBound      = 0x00000402
	StatusDstNotBound      = 0x00000403
	StatusInvalidIP        = 0x0000040B
)

var statusText = map[uint32]string{
	StatusOK:               "ok",
	StatusInvalidMsgLen:    "invalid message length",
	StatusInvalidCmdLen:    "invalid command length",
	StatusInvalidCommand:   "invalid command ID",
	StatusInvalidBindState: "incorrect bind status",
	StatusAlreadyBound:     "already bound",
	StatusSystemError:      "system error",
	StatusInvalidSrcAddr:   "invalid source address",
	StatusInvalidDstAddr:   "invalid destination address",
	StatusBindFailed:       "bind failed",
	StatusInvalidPassword:  "invalid password",
	StatusInvalidSystemID:  "invalid system ID",
	StatusMsgQueueFull:     "message queue full",
	StatusThrottled:        "throttled",
	StatusUnknownError:     "unknown error",
	StatusTimeout:          "timeout",
	StatusSrcNotBound:      "source not bound",
	StatusDstNotBound:      "destination not bound",
	StatusInvalidIP:        "invalid IP address",
}

// StatusText returns a description of status, or "" if it is not known.
func StatusText(status uint32) string { return statusText[status] }

// MaxSequence is the largest sequence number used by SMPP.
const MaxSequence = 0x7FFFFFFF

// Protocol is the description of SMPP used by binder sessions.
//
// An SMPP session is closed after two inactivity intervals with nothing
// received. A bound session sends a probe after each enquire interval without
// traffic, and relies on the inactivity timer to detect a dead peer.
var Protocol = &binder.Protocol{
	Name: "smpp",
	Header: binder.HeaderFormat{
		IDWidth:     4,
		StatusWidth: 4,
		ResponseBit: responseBit,
	},
	MaxSequence: MaxSequence,
	Codec:       Codec{},
	Commands:    Commands,
	Control: binder.Control{
		EnquireLink:     CmdEnquireLink,
		EnquireLinkResp: CmdEnquireLinkResp,
		Unbind:          CmdUnbind,
		UnbindResp:      CmdUnbindResp,
		GenericNack:     CmdGenericNack,
	},
	StatusOK:             StatusOK,
	StatusInvalidCommand: StatusInvalidCommand,
	StatusBindFailed:     StatusBindFailed,
	StatusAlreadyBound:   StatusAlreadyBound,
	StatusTimeout:        StatusTimeout,
	KeepAlive: binder.KeepAlive{
		InactivityInterval: 120 * time.Second,
		InactivityMisses:   2,
		EnquireInterval:    30 * time.Second,
	},
	BindResponse: func(req binder.BindRequest, systemID string) binder.BindResponse {
		rsp := &BindResponse{BindType: BindTransceiver, SystemID: systemID}
		if br, ok := req.(*BindRequest); ok {
			rsp.BindType = br.BindType
		}
		return rsp
	},
	StatusText: StatusText,
}
