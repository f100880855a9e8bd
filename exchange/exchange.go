// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package exchange implements request/response correlation on top of binder
// sessions.
//
// A [Client] maintains a bound session with one server, and a [Server]
// accepts bound sessions from many clients. Both track each request sent
// with Send until its response arrives or its timeout elapses, and deliver
// either outcome as a [Result] to the same continuation:
//
//	c.Send(req, func(r exchange.Result) {
//	   if r.Err != nil {
//	      log.Printf("request %d failed: %v", r.Seq, r.Err)
//	      return
//	   }
//	   handleResponse(r.Response, r.Status)
//	})
//
// Continuations and handlers run on the loop of the underlying session.
package exchange

import (
	"errors"
	"expvar"
	"sync"
	"time"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/expirator"
	"github.com/rs/zerolog"
)

// Default settings for clients and servers.
const (
	DefaultTimeout = 30 * time.Second       // request timeout
	DefaultTick    = 100 * time.Millisecond // expiry resolution
)

var (
	// ErrTimeout is reported in a Result when no response arrived before the
	// request timed out.
	ErrTimeout = errors.New("exchange: request timed out")

	// ErrDisconnected is reported in a Result when the session closed before a
	// response arrived.
	ErrDisconnected = errors.New("exchange: session closed before response")

	// ErrNotBound is reported when sending without a bound session.
	ErrNotBound = errors.New("exchange: no bound session")

	// ErrUnknownPeer is reported when sending to a peer that is not bound.
	ErrUnknownPeer = errors.New("exchange: unknown peer")
)

var (
	requestsTimedOut  expvar.Int
	responseUnmatched expvar.Int
)

func init() {
	m := binder.Metrics()
	m.Set("requests_timed_out", &requestsTimedOut)
	m.Set("responses_unmatched", &responseUnmatched)
}

// A Result is the outcome of a tracked request.
type Result struct {
	Peer     string     // identity of the remote peer
	Seq      uint32     // sequence number of the request
	Request  binder.PDU // the request as sent
	Response binder.PDU // the response, or nil if Err != nil
	Status   uint32     // status of the response, or the protocol timeout status
	Err      error      // ErrTimeout, ErrDisconnected, or nil
}

// OK reports whether r carries a response with the protocol's success status.
func (r Result) OK(p *binder.Protocol) bool { return r.Err == nil && r.Status == p.StatusOK }

// Stat is a session lifecycle event reported to Handlers.OnSession.
type Stat int

// Session lifecycle events.
const (
	Bound Stat = iota
	Closed
)

func (s Stat) String() string {
	if s == Bound {
		return "bound"
	}
	return "closed"
}

// Handlers are the callbacks used by a Client or Server to report activity.
// Any handler may be nil. Handlers run on the loop.
type Handlers struct {
	// OnRequest is called for each request received from a bound peer. The
	// receiver should answer with Reply.
	OnRequest func(peer string, req binder.PDU, seq uint32)

	// OnResult is the continuation for requests sent without one.
	OnResult func(Result)

	// OnSession is called when a session with peer is bound or closed.
	OnSession func(peer string, stat Stat)
}

func (h Handlers) session(peer string, stat Stat) {
	if h.OnSession != nil {
		h.OnSession(peer, stat)
	}
}

// call is the registry entry for a tracked request.
type call struct {
	req  binder.PDU
	done func(Result)
}

// A tracker correlates the responses on one session with the requests that
// were sent on it.
type tracker struct {
	peer    string
	ttl     time.Duration
	timeout uint32 // protocol timeout status
	def     func(Result)
	exp     *expirator.Expirator[uint32, *call]
	log     *zerolog.Logger

	μ     sync.Mutex
	cause error // reported for entries expired by abandon
}

func newTracker(peer string, p *binder.Protocol, ttl, tick time.Duration, def func(Result), log *zerolog.Logger) *tracker {
	t := &tracker{peer: peer, ttl: ttl, timeout: p.StatusTimeout, def: def, log: log}
	t.exp = expirator.New(tick, t.expired)
	return t
}

func (t *tracker) track(seq uint32, req binder.PDU, done func(Result)) {
	t.exp.Add(seq, t.ttl, &call{req: req, done: done})
}

// take removes and returns the pending request with sequence number seq.
func (t *tracker) take(seq uint32) (*call, bool) { return t.exp.Remove(seq) }

// respond completes a request removed by take. If ok is false, the response
// did not match a pending request and is discarded.
func (t *tracker) respond(seq uint32, c *call, ok bool, rsp binder.PDU, status uint32) {
	if !ok {
		responseUnmatched.Add(1)
		t.log.Debug().Uint32("seq", seq).Str("peer", t.peer).Msg("response does not match a pending request")
		return
	}
	t.finish(c, Result{Peer: t.peer, Seq: seq, Request: c.req, Response: rsp, Status: status})
}

// abandon stops the tracker and fails every pending request with err.
func (t *tracker) abandon(err error) {
	t.exp.Stop()
	t.μ.Lock()
	t.cause = err
	t.μ.Unlock()
	t.exp.ExpireAll()
}

func (t *tracker) expired(seq uint32, c *call) {
	t.μ.Lock()
	err := t.cause
	t.μ.Unlock()
	if err == nil {
		err = ErrTimeout
		requestsTimedOut.Add(1)
		t.log.Debug().Uint32("seq", seq).Str("peer", t.peer).Msg("request timed out")
	}
	t.finish(c, Result{Peer: t.peer, Seq: seq, Request: c.req, Status: t.timeout, Err: err})
}

func (t *tracker) finish(c *call, r Result) {
	if c.done != nil {
		c.done(r)
	} else if t.def != nil {
		t.def(r)
	}
}

func nopLogger(log *zerolog.Logger) *zerolog.Logger {
	if log == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return log
}

func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
