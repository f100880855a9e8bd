// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package binder

import "time"

// Default settings for session options.
const (
	DefaultBufferSize    = 1 << 20          // receive buffer capacity
	DefaultReadChunk     = 64 << 10         // maximum bytes requested per read
	DefaultSendThreshold = 1 << 20          // outbound queue high-water mark
	DefaultBindTimeout   = 30 * time.Second // accepted connection awaiting a bind
	DefaultUnbindTimeout = 10 * time.Second // session awaiting the end of an unbind
)

// Options control the buffering and keep-alive behaviour of a session.
// A zero value for any field selects its default.
type Options struct {
	// BufferSize is the capacity of the receive buffer, and thus an upper
	// bound on the size of a single inbound frame.
	BufferSize int

	// ReadChunk is the maximum number of bytes requested from the transport
	// by a single read.
	ReadChunk int

	// SendThreshold is the outbound queue size above which the queue is
	// considered congested. See Session.AboveThreshold and the
	// OnSendBufferAvailable handler.
	SendThreshold int

	// KeepAlive overrides the protocol defaults for keep-alive timers.
	KeepAlive KeepAlive

	// BindTimeout bounds how long an Acceptor waits for the bind request on a
	// new connection before closing it. A negative value disables the limit.
	BindTimeout time.Duration

	// UnbindTimeout bounds how long a session stays in the unbinding state.
	// When it elapses the session closes with ErrUnbindTimeout. A negative
	// value disables the limit.
	UnbindTimeout time.Duration
}

// withDefaults returns a copy of o with defaults filled in from p.
func (o Options) withDefaults(p *Protocol) Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.ReadChunk <= 0 {
		o.ReadChunk = DefaultReadChunk
	}
	o.ReadChunk = min(o.ReadChunk, o.BufferSize)
	if o.SendThreshold <= 0 {
		o.SendThreshold = DefaultSendThreshold
	}
	if o.BindTimeout == 0 {
		o.BindTimeout = DefaultBindTimeout
	}
	if o.UnbindTimeout == 0 {
		o.UnbindTimeout = DefaultUnbindTimeout
	}
	o.KeepAlive = o.KeepAlive.withDefaults(p.KeepAlive)
	return o
}
