// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package pinex defines the PINEX protocol, a compact internal protocol for
// relaying message bodies between gateway nodes.
//
// PINEX frames have a 10-byte header: a 4-byte length, a 1-byte command ID, a
// 1-byte command status, and a 4-byte sequence number. Response command IDs
// have the high bit (0x80) set. Peers bind bidirectionally, identifying
// themselves by a system ID, and exchange opaque message bodies with the
// stream command.
package pinex

import (
	"time"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/catalog"
)

// Command IDs.
const (
	CmdBind            = 0x01
	CmdStream          = 0x02
	CmdEnquireLink     = 0x03
	CmdUnbind          = 0x04
	CmdBindResp        = CmdBind | responseBit
	CmdStreamResp      = CmdStream | responseBit
	CmdEnquireLinkResp = CmdEnquireLink | responseBit
	CmdUnbindResp      = CmdUnbind | responseBit

	responseBit = 0x80
)

// Commands maps the names of PINEX commands to their IDs.
var Commands = catalog.New().
	Set("bind", CmdBind).
	Set("bind_resp", CmdBindResp).
	Set("stream", CmdStream).
	Set("stream_resp", CmdStreamResp).
	Set("enquire_link", CmdEnquireLink).
	Set("enquire_link_resp", CmdEnquireLinkResp).
	Set("unbind", CmdUnbind).
	Set("unbind_resp", CmdUnbindResp)

// Command statuses.
const (
	StatusOK             = 0x00
	StatusFail           = 0x01 // generic failure, including a refused bind
	StatusInvalidCommand = 0x02
	StatusTimeout        = 0x03 // synthesized locally for an unanswered request
	StatusDuplicateBind  = 0x04 // a session with the same system ID is bound
)

var statusText = map[uint32]string{
	StatusOK:             "ok",
	StatusFail:           "failed",
	StatusInvalidCommand: "invalid command",
	StatusTimeout:        "timeout",
	StatusDuplicateBind:  "duplicate bind",
}

// StatusText returns a description of status, or "" if it is not known.
func StatusText(status uint32) string { return statusText[status] }

// Protocol is the description of PINEX used by binder sessions.
//
// PINEX sessions do not use an inactivity timer; a bound session sends a
// probe after each enquire interval without traffic, and closes after three
// such intervals.
var Protocol = &binder.Protocol{
	Name: "pinex",
	Header: binder.HeaderFormat{
		IDWidth:     1,
		StatusWidth: 1,
		ResponseBit: responseBit,
	},
	MaxSequence: 0xFFFFFFFF,
	Codec:       Codec{},
	Commands:    Commands,
	Control: binder.Control{
		EnquireLink:     CmdEnquireLink,
		EnquireLinkResp: CmdEnquireLinkResp,
		Unbind:          CmdUnbind,
		UnbindResp:      CmdUnbindResp,
	},
	StatusOK:             StatusOK,
	StatusInvalidCommand: StatusInvalidCommand,
	StatusBindFailed:     StatusFail,
	StatusAlreadyBound:   StatusDuplicateBind,
	StatusTimeout:        StatusTimeout,
	KeepAlive: binder.KeepAlive{
		InactivityInterval: -1,
		EnquireInterval:    60 * time.Second,
		EnquireMisses:      3,
	},
	BindResponse: func(req binder.BindRequest, systemID string) binder.BindResponse {
		rsp := &BindResponse{SystemID: systemID}
		if br, ok := req.(*BindRequest); ok {
			rsp.BindType = br.BindType
		}
		return rsp
	},
	StatusText: StatusText,
}
