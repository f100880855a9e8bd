// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters from functions on concrete PDU types to
// the request handlers used by the exchange package.
//
// A [Mux] routes each request to a handler chosen by its command ID:
//
//	m := handler.NewMux().
//	   Handle(pinex.CmdStream, handler.Typed(onStream)).
//	   Handle(pinex.CmdBind, handler.Typed(onBind))
//	srv := exchange.NewServer(exchange.ServerConfig{
//	   Handlers: exchange.Handlers{OnRequest: m.Dispatch},
//	   // ...
//	})
package handler

import (
	"fmt"
	"sync"

	"github.com/creachadair/binder"
)

// A Func handles a request with sequence number seq from peer.
type Func func(peer string, req binder.PDU, seq uint32)

// Typed adapts a function f that accepts a request of concrete type P to a
// Func. A request of any other type is ignored.
func Typed[P binder.PDU](f func(peer string, req P, seq uint32)) Func {
	return func(peer string, req binder.PDU, seq uint32) {
		if p, ok := req.(P); ok {
			f(peer, p, seq)
		}
	}
}

// A ReplyFunc sends a response to a request from peer. The Reply method of an
// exchange.Server has this type.
type ReplyFunc func(peer string, rsp binder.PDU, seq, status uint32) error

// Respond adapts a function f that computes a response and status for a
// request of concrete type P to a Func that sends the response with reply.
// If reply reports an error, it is passed to onError if that is non-nil.
func Respond[P binder.PDU](reply ReplyFunc, f func(peer string, req P) (binder.PDU, uint32), onError func(error)) Func {
	return Typed(func(peer string, req P, seq uint32) {
		rsp, status := f(peer, req)
		if err := reply(peer, rsp, seq, status); err != nil && onError != nil {
			onError(fmt.Errorf("reply to %s seq %d: %w", peer, seq, err))
		}
	})
}

// A Mux dispatches requests to handlers by command ID. A zero Mux is ready
// for use; its methods are safe for concurrent use.
type Mux struct {
	μ        sync.Mutex
	routes   map[uint32]Func
	fallback Func
}

// NewMux constructs a new empty Mux.
func NewMux() *Mux { return new(Mux) }

// Handle registers f to handle requests with the given command ID, and
// returns m to permit chaining. If f == nil, any existing handler for id is
// removed.
func (m *Mux) Handle(id uint32, f Func) *Mux {
	m.μ.Lock()
	defer m.μ.Unlock()
	if f == nil {
		delete(m.routes, id)
		return m
	}
	if m.routes == nil {
		m.routes = make(map[uint32]Func)
	}
	m.routes[id] = f
	return m
}

// Fallback registers f to handle requests with no registered handler, and
// returns m to permit chaining.
func (m *Mux) Fallback(f Func) *Mux {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.fallback = f
	return m
}

// Dispatch passes req to the handler registered for its command ID, or to
// the fallback. A request with no handler and no fallback is dropped.
func (m *Mux) Dispatch(peer string, req binder.PDU, seq uint32) {
	m.μ.Lock()
	f, ok := m.routes[req.CommandID()]
	if !ok {
		f = m.fallback
	}
	m.μ.Unlock()
	if f != nil {
		f(peer, req, seq)
	}
}
