// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package binder

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/creachadair/binder/loop"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

// An Acceptor accepts client connections on a listener and performs the
// server side of the bind handshake for each one.
//
// Each accepted connection gets a session that waits for a single bind
// request; any other request received before the bind is discarded. The
// request is passed to Authenticate, and a bind response carrying the
// resulting status is always sent. If the status is success, the session is
// bound and passed to OnBind. Otherwise the session is closed once the
// response has been written. A session that closes before binding, or that
// sends no bind request within Options.BindTimeout, is discarded without
// notice.
//
// The Loop, Listener, and Protocol fields must be set before calling Start.
type Acceptor struct {
	Loop     *loop.Loop
	Listener net.Listener
	Protocol *Protocol

	// SystemID identifies this server in bind responses.
	SystemID string

	// Authenticate checks a bind request from the peer at address ip, and
	// returns the status to report in the bind response. If nil, every bind
	// request is accepted.
	Authenticate func(req BindRequest, ip string) uint32

	// OnBind is called on the loop with each bound session. The session has
	// no handlers when OnBind is called; OnBind should install them. If OnBind
	// returns false, the session is unbound, and closed if the peer does not
	// complete the unbind within Options.UnbindTimeout. If OnBind is nil,
	// bound sessions are unbound immediately.
	OnBind func(req BindRequest, s *Session) bool

	// Options are applied to each session created by the acceptor.
	Options Options

	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger *zerolog.Logger

	μ       sync.Mutex
	tasks   *taskgroup.Group
	unbound map[*Session]*loop.Timer // sessions awaiting a bind request
}

func (a *Acceptor) log() *zerolog.Logger {
	if a.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return a.Logger
}

// Start begins accepting connections. It panics if a is already running.
// Start does not block.
func (a *Acceptor) Start() {
	a.μ.Lock()
	defer a.μ.Unlock()
	if a.tasks != nil {
		panic("acceptor is already started")
	}
	a.unbound = make(map[*Session]*loop.Timer)
	a.tasks = taskgroup.New(nil)
	a.tasks.Go(a.acceptLoop)
}

// Stop closes the listener and any sessions that have not completed a bind,
// and blocks until the accept loop has exited. Bound sessions are not
// affected.
func (a *Acceptor) Stop() {
	a.μ.Lock()
	tasks := a.tasks
	pending := a.unbound
	a.tasks, a.unbound = nil, nil
	a.μ.Unlock()
	if tasks == nil {
		return
	}

	a.Listener.Close()
	tasks.Wait()
	for s, timer := range pending {
		timer.Stop()
		s.Handle(Handlers{}).Close()
	}
}

// Addr reports the address of the listener.
func (a *Acceptor) Addr() net.Addr { return a.Listener.Addr() }

func (a *Acceptor) acceptLoop() error {
	for {
		conn, err := a.Listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			return nil
		} else if err != nil {
			// A failure to accept one connection does not end the loop.
			a.log().Error().Err(err).Msg("accept failed")
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if !a.Loop.Post(func() { a.accepted(conn) }) {
			conn.Close()
		}
	}
}

// accepted runs on the loop for each new connection.
func (a *Acceptor) accepted(conn net.Conn) {
	a.μ.Lock()
	defer a.μ.Unlock()
	if a.unbound == nil {
		conn.Close() // stopped
		return
	}

	s := NewSession(a.Loop, conn, a.Protocol, a.Options)
	s.Handle(Handlers{
		OnRequest: func(s *Session, req PDU, seq uint32) {
			if br, ok := req.(BindRequest); ok {
				a.bind(s, br, seq)
				return
			}
			rootMetrics.frameDropped.Add(1)
			a.log().Debug().Str("command", a.Protocol.CommandName(req.CommandID())).Msg("request before bind discarded")
		},
		OnClose: func(s *Session, err error) {
			a.μ.Lock()
			defer a.μ.Unlock()
			a.unbound[s].Stop()
			delete(a.unbound, s)
		},
		OnDecodeError: func(s *Session, err *DecodeError) {
			ip, _ := s.RemoteEndpoint()
			a.log().Warn().Err(err).Str("peer", ip).Msg("decoding bind request")
		},
	})
	var timer *loop.Timer
	if d := s.opts.BindTimeout; d > 0 {
		timer = a.Loop.AfterFunc(d, func() { a.bindExpired(s) })
	}
	a.unbound[s] = timer
	s.Start()
}

// bindExpired runs on the loop when s has not sent a bind request in time.
func (a *Acceptor) bindExpired(s *Session) {
	a.μ.Lock()
	_, waiting := a.unbound[s]
	a.μ.Unlock()
	if waiting {
		ip, _ := s.RemoteEndpoint()
		a.log().Warn().Str("peer", ip).Msg("no bind request received")
		s.Close()
	}
}

// bind runs on the loop when a session receives a bind request.
func (a *Acceptor) bind(s *Session, req BindRequest, seq uint32) {
	a.μ.Lock()
	a.unbound[s].Stop()
	delete(a.unbound, s)
	a.μ.Unlock()

	ip, _ := s.RemoteEndpoint()
	status := a.Protocol.StatusOK
	if a.Authenticate != nil {
		status = a.Authenticate(req, ip)
	}
	s.Handle(Handlers{}) // detach the handshake handlers
	rsp := a.Protocol.BindResponse(req, a.SystemID)
	if err := s.Reply(rsp, seq, status); err != nil {
		a.log().Error().Err(err).Str("peer", ip).Msg("sending bind response")
		s.Close()
		return
	}

	logger := a.log().With().Str("peer", ip).Str("system_id", req.Identity()).Logger()
	if status != a.Protocol.StatusOK {
		rootMetrics.bindRejected.Add(1)
		logger.Warn().Str("status", a.Protocol.StatusString(status)).Msg("bind rejected")
		s.closeWhenFlushed(nil)
		return
	}

	rootMetrics.bindAccepted.Add(1)
	logger.Info().Msg("bound")
	s.startEnquireLink()
	if a.OnBind == nil || !a.OnBind(req, s) {
		logger.Info().Msg("bind refused by owner")
		s.Unbind()
	}
}
