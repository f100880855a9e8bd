package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/packet"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
)

var packFlags struct {
	Command string `flag:"command,Command name or ID; if set, prefix a frame header"`
	Status  uint   `flag:"status,Command status for the frame header"`
	Seq     uint   `flag:"seq,default=1,Sequence number for the frame header"`
}

var packCommand = &command.C{
	Name:  "pack",
	Usage: "[--command name] <pattern> <argument>...",
	Help: `Pack arguments into a PDU body or a complete frame.

The pattern specifies the sequence of values to concatenate into the body.
Whitespace in the pattern is ignored; otherwise the pattern specifies how the
corresponding argument is processed:

  c  : a C style string with a terminating NUL
  q  : a quoted literal string (Go style) without framing
  r  : a raw literal string encoded without framing
  x  : a hex-encoded byte string without framing
  %  : a Boolean constant (true or false), as one byte
  1  : a uint8 value (1 byte)
  2  : a uint16 value (2 bytes)
  4  : a uint32 value (4 bytes)

Integer values are packed in big-endian order.

In addition, a "(" begins a subpattern, which goes until a matching ")".
Each subpattern is encoded according to its contents, with a length prefix
prepended. By default, the length prefix is a uint16, but the following
symbols modify the length encoding for future subpatterns:

  !  : encode length as a uint8 (1 byte)
  @  : encode length as a uint16 (2 bytes; the default)
  $  : encode length as a uint32 (4 bytes)

Subpatterns may be nested. For example, an SMPP optional parameter with tag
0x0204 and a 2-byte value is "2 (2)", with arguments "516 1".

If --command is set, the body is prefixed with a frame header for the
selected protocol, carrying the given command, status, and sequence number.
`,
	SetFlags: command.Flags(flax.MustBind, &packFlags),
	Run: func(env *command.Env) error {
		if len(env.Args) == 0 {
			return env.Usagef("missing format argument")
		}
		body, rest, err := formatData(env.Args[0], env.Args[1:])
		if err != nil {
			return err
		} else if len(rest) != 0 {
			return fmt.Errorf("extra arguments: %q", rest)
		}
		if packFlags.Command != "" {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			proto, _ := protocolByName(cfg.Protocol) // checked by Validate
			id, err := commandID(proto, packFlags.Command)
			if err != nil {
				return err
			}
			body = packFrame(proto, binder.Header{
				CommandID: id,
				Status:    uint32(packFlags.Status),
				Sequence:  uint32(packFlags.Seq),
			}, body)
		}
		_, err = os.Stdout.Write(body)
		return err
	},
}

// commandID resolves a command name or number for p.
func commandID(p *binder.Protocol, s string) (uint32, error) {
	if id, ok := p.Commands.Lookup(s); ok {
		return id, nil
	}
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown %s command %q", p.Name, s)
	}
	return uint32(v), nil
}

// packFrame returns a frame for p with header h and the given body. The length
// of h is ignored and computed from the body.
func packFrame(p *binder.Protocol, h binder.Header, body []byte) []byte {
	h.Length = uint32(p.Header.Size() + len(body))
	return append(p.Header.Append(nil, h), body...)
}

func formatData(pat string, args []string) ([]byte, []string, error) {
	size := byte('@')
	b := packet.NewBuilder(nil)
	for i := 0; i < len(pat); i++ {
		c := pat[i]
		switch c {
		case 'c', 'q', 'r', 'x', '%', '1', '2', '4':
			// OK, these need an argument (see below)
		case ' ', '\t', '\n':
			// Skip whitespace.
			continue
		case '!', '@', '$':
			// Set sub-pattern size encoding.
			size = c
			continue
		case '(':
			// Sub-pattern (sub) becomes a length-prefixed run of the contents.
			sub, ok := cutParen(pat[i+1:], '(', ')')
			if !ok {
				return nil, nil, errors.New("missing close parenthesis")
			}
			sd, sa, err := formatData(sub, args)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid subpattern: %w", err)
			}
			if err := putSize(b, size, len(sd)); err != nil {
				return nil, nil, err
			}
			b.Put(sd...)
			args = sa
			i += len(sub) + 1
			continue
		default:
			return nil, nil, fmt.Errorf("invalid pattern word %c", c)
		}

		if len(args) == 0 {
			return nil, nil, fmt.Errorf("missing argument for %c", c)
		}
		switch c {
		case 'c':
			if err := b.CString(args[0], 0); err != nil {
				return nil, nil, fmt.Errorf("invalid C string: %w", err)
			}
		case 'q':
			dec, err := strconv.Unquote(`"` + args[0] + `"`)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid string: %w", err)
			}
			b.PutString(dec)
		case 'r':
			b.PutString(args[0])
		case 'x':
			dec, err := hex.DecodeString(args[0])
			if err != nil {
				return nil, nil, fmt.Errorf("invalid hex: %w", err)
			}
			b.Put(dec...)
		case '%':
			v, err := strconv.ParseBool(args[0])
			if err != nil {
				return nil, nil, fmt.Errorf("invalid bool: %w", err)
			}
			b.Bool(v)
		case '1':
			v, err := strconv.ParseUint(args[0], 0, 8)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid byte: %w", err)
			}
			b.Uint8(uint8(v))
		case '2':
			v, err := strconv.ParseUint(args[0], 0, 16)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid uint16: %w", err)
			}
			b.Uint16(uint16(v))
		case '4':
			v, err := strconv.ParseUint(args[0], 0, 32)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid uint32: %w", err)
			}
			b.Uint32(uint32(v))
		default:
			panic("invalid code: " + string(c))
		}
		args = args[1:]
	}
	return b.Bytes(), args, nil
}

func putSize(b *packet.Builder, size byte, n int) error {
	switch size {
	case '!':
		if n > 0xFF {
			return fmt.Errorf("length %d too long for a 1-byte prefix", n)
		}
		b.Uint8(uint8(n))
	case '@':
		if n > 0xFFFF {
			return fmt.Errorf("length %d too long for a 2-byte prefix", n)
		}
		b.Uint16(uint16(n))
	case '$':
		b.Uint32(uint32(n))
	default:
		panic("invalid size type: " + string(size))
	}
	return nil
}

func cutParen(s string, l, r rune) (string, bool) {
	d := 1
	for i, c := range s {
		if c == l {
			d++
		} else if c == r {
			d--
			if d == 0 {
				return s[:i], true
			}
		}
	}
	return s, false
}
