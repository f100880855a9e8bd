// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package binder

import (
	"errors"
	"fmt"
	"time"

	"github.com/creachadair/binder/catalog"
)

// A PDU is a decoded protocol data unit. Each protocol package defines a
// closed set of concrete PDU types.
type PDU interface {
	// CommandID reports the command ID of the PDU, including the response bit
	// if the PDU is a response.
	CommandID() uint32
}

// A BindRequest is a PDU that asks the remote peer to establish a bound
// session.
type BindRequest interface {
	PDU

	// Identity reports the system identifier of the peer requesting the bind.
	Identity() string
}

// A BindResponse is a PDU that answers a BindRequest.
type BindResponse interface {
	PDU

	// Identity reports the system identifier of the peer answering the bind.
	Identity() string
}

// A Codec encodes and decodes the bodies of the PDUs for a protocol. Frame
// headers are handled separately by the session.
type Codec interface {
	// Decode decodes the body of a PDU with the given command ID. The body
	// slice is only valid for the duration of the call, and the result must
	// not retain it. If id is not known to the codec, Decode must report an
	// error wrapping ErrUnknownCommand.
	Decode(id uint32, body []byte) (PDU, error)

	// Encode appends the body encoding of pdu to buf. On error, the contents
	// of the returned slice beyond len(buf) are ignored.
	Encode(buf []byte, pdu PDU) ([]byte, error)
}

// ErrUnknownCommand is reported by a Codec for a command ID it does not
// recognize.
var ErrUnknownCommand = errors.New("unknown command ID")

// Control gives the command IDs of the control PDUs handled by the session
// itself. Control PDUs have an empty body.
type Control struct {
	EnquireLink     uint32 // keep-alive probe
	EnquireLinkResp uint32 // keep-alive acknowledgement
	Unbind          uint32 // request to end the session
	UnbindResp      uint32 // acknowledgement of Unbind

	// If nonzero, the session replies to an unknown request command with this
	// response and the protocol's invalid command status.
	GenericNack uint32
}

// A Protocol describes an instance of the framed session protocol: the header
// layout, the PDU codec, and the control commands and statuses used by the
// session machinery.
type Protocol struct {
	Name        string
	Header      HeaderFormat
	MaxSequence uint32 // sequence numbers wrap from this value to 1
	Codec       Codec
	Control     Control

	// Commands, if set, names the command IDs of the protocol for logs.
	Commands catalog.Catalog

	StatusOK             uint32 // success
	StatusInvalidCommand uint32 // reported in a generic NACK
	StatusBindFailed     uint32 // default status for a refused bind
	StatusAlreadyBound   uint32 // refusal of a bound identity; if OK, StatusBindFailed is used
	StatusTimeout        uint32 // synthesized for a request that timed out

	// KeepAlive gives the default keep-alive settings for sessions of this
	// protocol. Sessions may override it via Options.
	KeepAlive KeepAlive

	// BindResponse constructs the response to req, as sent by a server that
	// identifies itself as systemID.
	BindResponse func(req BindRequest, systemID string) BindResponse

	// StatusText, if set, returns a human-readable name for a status code.
	StatusText func(status uint32) string
}

// Validate reports an error if p is missing required fields or has an
// unusable header format.
func (p *Protocol) Validate() error {
	if err := p.Header.Validate(); err != nil {
		return fmt.Errorf("protocol %q: %w", p.Name, err)
	} else if p.Codec == nil {
		return fmt.Errorf("protocol %q: missing codec", p.Name)
	} else if p.BindResponse == nil {
		return fmt.Errorf("protocol %q: missing bind response constructor", p.Name)
	} else if p.MaxSequence == 0 {
		return fmt.Errorf("protocol %q: maximum sequence number is zero", p.Name)
	}
	return nil
}

// IsResponse reports whether pdu is a response according to p.
func (p *Protocol) IsResponse(pdu PDU) bool { return p.Header.IsResponse(pdu.CommandID()) }

// CommandName returns a human-readable name for a command ID.
func (p *Protocol) CommandName(id uint32) string {
	if p.Commands.Len() == 0 {
		return fmt.Sprintf("%#x", id)
	}
	return p.Commands.Name(id)
}

// StatusString returns a human-readable rendering of status.
func (p *Protocol) StatusString(status uint32) string {
	if p.StatusText != nil {
		if s := p.StatusText(status); s != "" {
			return s
		}
	}
	return fmt.Sprintf("status %#x", status)
}

// KeepAlive configures the keep-alive timers of a session.
//
// The inactivity timer fires every InactivityInterval and is reset by every
// successful read; the session is closed when it fires InactivityMisses times
// in a row. The enquire-link timer runs once the session is bound: after an
// interval with no reads the session sends a keep-alive probe, and if
// EnquireMisses > 0 the session is closed after that many consecutive
// intervals with no reads.
//
// A zero interval means "use the protocol default", and a negative interval
// disables that timer.
type KeepAlive struct {
	InactivityInterval time.Duration
	InactivityMisses   int
	EnquireInterval    time.Duration
	EnquireMisses      int
}

func (k KeepAlive) withDefaults(d KeepAlive) KeepAlive {
	if k.InactivityInterval == 0 {
		k.InactivityInterval = d.InactivityInterval
	}
	if k.InactivityMisses <= 0 {
		k.InactivityMisses = max(d.InactivityMisses, 1)
	}
	if k.EnquireInterval == 0 {
		k.EnquireInterval = d.EnquireInterval
	}
	if k.EnquireMisses == 0 {
		k.EnquireMisses = d.EnquireMisses
	}
	return k
}
