// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package exchange

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/loop"
	"github.com/rs/zerolog"
)

// ErrNoPeers is reported by Server.SendAny when no peers are bound.
var ErrNoPeers = errors.New("exchange: no bound peers")

// ServerConfig carries the settings for a Server. The Loop, Listener, and
// Protocol fields are required.
type ServerConfig struct {
	Loop     *loop.Loop
	Listener net.Listener
	Protocol *binder.Protocol

	// SystemID identifies the server in bind responses.
	SystemID string

	// Timeout is how long to wait for the response to a tracked request.
	// If zero, DefaultTimeout is used.
	Timeout time.Duration

	// Tick is the resolution of request timeouts. If zero, DefaultTick is used.
	Tick time.Duration

	// Authenticate checks the credentials of a bind request from ip, and
	// returns the status for the bind response. If nil, all credentials are
	// accepted. A bind whose identity is already bound is always refused.
	Authenticate func(req binder.BindRequest, ip string) uint32

	// Options are applied to each session.
	Options binder.Options

	Handlers Handlers

	// LogFrames, if set, is installed as the frame logger of each bound
	// session.
	LogFrames binder.FrameLogger

	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger *zerolog.Logger
}

// A Server accepts bound sessions from clients, keyed by the identity in
// their bind requests, and correlates the requests it sends to each client
// with their responses.
type Server struct {
	cfg ServerConfig
	acc *binder.Acceptor
	log *zerolog.Logger

	μ     sync.Mutex
	peers map[string]*peer
	next  int // round-robin position for SendAny
}

type peer struct {
	id    string
	s     *binder.Session
	track *tracker
}

// NewServer constructs a new, unstarted server with the given settings.
func NewServer(cfg ServerConfig) *Server {
	cfg.Timeout = orDefault(cfg.Timeout, DefaultTimeout)
	cfg.Tick = orDefault(cfg.Tick, DefaultTick)
	srv := &Server{cfg: cfg, log: nopLogger(cfg.Logger), peers: make(map[string]*peer)}
	srv.acc = &binder.Acceptor{
		Loop:         cfg.Loop,
		Listener:     cfg.Listener,
		Protocol:     cfg.Protocol,
		SystemID:     cfg.SystemID,
		Authenticate: srv.authenticate,
		OnBind:       srv.bound,
		Options:      cfg.Options,
		Logger:       cfg.Logger,
	}
	return srv
}

// Start begins accepting clients. Start does not block.
func (srv *Server) Start() { srv.acc.Start() }

// Stop stops accepting clients and unbinds every bound peer. Requests still
// pending fail with ErrDisconnected as the sessions close.
func (srv *Server) Stop() {
	srv.acc.Stop()
	srv.μ.Lock()
	sessions := make([]*binder.Session, 0, len(srv.peers))
	for _, p := range srv.peers {
		sessions = append(sessions, p.s)
	}
	srv.μ.Unlock()
	for _, s := range sessions {
		s.Unbind()
	}
}

// Addr reports the address the server is listening on.
func (srv *Server) Addr() net.Addr { return srv.acc.Addr() }

// Peers reports the identities of the bound peers, in sorted order.
func (srv *Server) Peers() []string {
	srv.μ.Lock()
	defer srv.μ.Unlock()
	return slices.Sorted(maps.Keys(srv.peers))
}

// Send sends a request to the named peer and tracks it until its response
// arrives or it times out. The outcome is passed to done, or to the OnResult
// handler if done == nil. If Send reports an error, the request was not sent
// and done is not called.
func (srv *Server) Send(peerID string, req binder.PDU, done func(Result)) (uint32, error) {
	srv.μ.Lock()
	defer srv.μ.Unlock()
	p, ok := srv.peers[peerID]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownPeer, peerID)
	}
	return p.sendLocked(req, done, srv.log)
}

// SendAny sends a tracked request to one of the bound peers, choosing peers
// in rotation. It reports the identity of the chosen peer.
func (srv *Server) SendAny(req binder.PDU, done func(Result)) (string, uint32, error) {
	srv.μ.Lock()
	defer srv.μ.Unlock()
	if len(srv.peers) == 0 {
		return "", 0, ErrNoPeers
	}
	ids := slices.Sorted(maps.Keys(srv.peers))
	id := ids[srv.next%len(ids)]
	srv.next = (srv.next + 1) % len(ids)
	seq, err := srv.peers[id].sendLocked(req, done, srv.log)
	return id, seq, err
}

// Broadcast sends an untracked request to every bound peer, and reports the
// number of peers to which it was sent.
func (srv *Server) Broadcast(req binder.PDU) int {
	srv.μ.Lock()
	defer srv.μ.Unlock()
	var n int
	for id, p := range srv.peers {
		if _, err := p.s.Send(req); err != nil {
			srv.log.Warn().Err(err).Str("peer", id).Msg("broadcast failed")
			continue
		}
		p.throttle(srv.log)
		n++
	}
	return n
}

// Notify sends an untracked request to the named peer.
func (srv *Server) Notify(peerID string, req binder.PDU) (uint32, error) {
	srv.μ.Lock()
	defer srv.μ.Unlock()
	p, ok := srv.peers[peerID]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownPeer, peerID)
	}
	seq, err := p.s.Send(req)
	if err == nil {
		p.throttle(srv.log)
	}
	return seq, err
}

// Reply sends a response to a request from the named peer.
func (srv *Server) Reply(peerID string, rsp binder.PDU, seq, status uint32) error {
	srv.μ.Lock()
	defer srv.μ.Unlock()
	p, ok := srv.peers[peerID]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownPeer, peerID)
	}
	if err := p.s.Reply(rsp, seq, status); err != nil {
		return err
	}
	p.throttle(srv.log)
	return nil
}

func (p *peer) sendLocked(req binder.PDU, done func(Result), log *zerolog.Logger) (uint32, error) {
	seq, err := p.s.Send(req)
	if err != nil {
		return 0, err
	}
	p.track.track(seq, req, done)
	p.throttle(log)
	return seq, nil
}

// throttle stops receiving from p while its outbound queue is congested.
func (p *peer) throttle(log *zerolog.Logger) {
	if p.s.AboveThreshold() {
		log.Debug().Str("peer", p.id).Msg("send buffer above threshold")
		p.s.PauseReceiving()
	}
}

// authenticate runs on the loop for each bind request.
func (srv *Server) authenticate(req binder.BindRequest, ip string) uint32 {
	srv.μ.Lock()
	_, dup := srv.peers[req.Identity()]
	srv.μ.Unlock()
	if dup {
		srv.log.Warn().Str("peer", req.Identity()).Str("ip", ip).Msg("duplicate bind refused")
		p := srv.cfg.Protocol
		if p.StatusAlreadyBound != p.StatusOK {
			return p.StatusAlreadyBound
		}
		return p.StatusBindFailed
	}
	if srv.cfg.Authenticate != nil {
		return srv.cfg.Authenticate(req, ip)
	}
	return srv.cfg.Protocol.StatusOK
}

// bound runs on the loop when a client completes a bind.
func (srv *Server) bound(req binder.BindRequest, s *binder.Session) bool {
	id := req.Identity()
	p := &peer{
		id:    id,
		s:     s,
		track: newTracker(id, srv.cfg.Protocol, srv.cfg.Timeout, srv.cfg.Tick, srv.cfg.Handlers.OnResult, srv.log),
	}

	srv.μ.Lock()
	if _, dup := srv.peers[id]; dup {
		srv.μ.Unlock()
		return false
	}
	srv.peers[id] = p
	srv.μ.Unlock()

	p.track.exp.Start(srv.cfg.Loop)
	s.Handle(binder.Handlers{
		OnRequest: func(_ *binder.Session, req binder.PDU, seq uint32) {
			if h := srv.cfg.Handlers.OnRequest; h != nil {
				h(id, req, seq)
			}
		},
		OnResponse: func(_ *binder.Session, rsp binder.PDU, seq, status uint32) {
			srv.μ.Lock() // synchronize with Send
			pending, ok := p.track.take(seq)
			srv.μ.Unlock()
			p.track.respond(seq, pending, ok, rsp, status)
		},
		OnClose: func(_ *binder.Session, err error) { srv.closed(p, err) },
		OnSendBufferAvailable: func(s *binder.Session) {
			s.ResumeReceiving()
		},
		OnDecodeError: func(_ *binder.Session, err *binder.DecodeError) {
			srv.log.Error().Err(err).Str("peer", id).Msg("decode failed")
		},
	})
	s.LogFrames(srv.cfg.LogFrames)
	srv.cfg.Handlers.session(id, Bound)
	return true
}

// closed runs on the loop when the session of a bound peer closes.
func (srv *Server) closed(p *peer, err error) {
	srv.μ.Lock()
	if srv.peers[p.id] == p {
		delete(srv.peers, p.id)
	}
	srv.μ.Unlock()

	if err != nil {
		srv.log.Warn().Err(err).Str("peer", p.id).Msg("session closed")
	} else {
		srv.log.Info().Str("peer", p.id).Msg("session closed")
	}
	p.track.abandon(ErrDisconnected)
	srv.cfg.Handlers.session(p.id, Closed)
}
