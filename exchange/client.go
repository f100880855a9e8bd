// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package exchange

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/loop"
	"github.com/rs/zerolog"
)

// ClientConfig carries the settings for a Client. The Loop, Addr, Protocol,
// and Bind fields are required.
type ClientConfig struct {
	Loop     *loop.Loop
	Addr     string             // host:port of the server
	Protocol *binder.Protocol   // protocol spoken by the server
	Bind     binder.BindRequest // sent to the server on each connection

	// Timeout is how long to wait for the response to a tracked request.
	// If zero, DefaultTimeout is used.
	Timeout time.Duration

	// Tick is the resolution of request timeouts. If zero, DefaultTick is used.
	Tick time.Duration

	// If AutoReconnect is true, the client reconnects whenever its session
	// closes or a bind attempt fails, until Stop is called.
	AutoReconnect bool

	// RetryInterval is the delay between connection attempts. If zero,
	// binder.DefaultRetryInterval is used.
	RetryInterval time.Duration

	// Dial, if set, opens connections to the server.
	Dial func(ctx context.Context, addr string) (net.Conn, error)

	// Options are applied to each session.
	Options binder.Options

	Handlers Handlers

	// LogFrames, if set, is installed as the frame logger of each bound
	// session.
	LogFrames binder.FrameLogger

	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger *zerolog.Logger
}

// A Client maintains a bound session with a server and correlates the
// requests it sends with their responses.
type Client struct {
	cfg  ClientConfig
	conn *binder.Connector
	log  *zerolog.Logger

	μ       sync.Mutex
	session *binder.Session
	track   *tracker
	peer    string
	retry   *loop.Timer
	running bool
}

// NewClient constructs a new, unstarted client with the given settings.
func NewClient(cfg ClientConfig) *Client {
	cfg.Timeout = orDefault(cfg.Timeout, DefaultTimeout)
	cfg.Tick = orDefault(cfg.Tick, DefaultTick)
	cfg.RetryInterval = orDefault(cfg.RetryInterval, binder.DefaultRetryInterval)
	c := &Client{cfg: cfg, log: nopLogger(cfg.Logger)}
	c.conn = &binder.Connector{
		Loop:          cfg.Loop,
		Addr:          cfg.Addr,
		Protocol:      cfg.Protocol,
		Bind:          cfg.Bind,
		RetryInterval: cfg.RetryInterval,
		Dial:          cfg.Dial,
		Options:       cfg.Options,
		OnBind:        c.bound,
		OnError:       c.bindError,
		Logger:        cfg.Logger,
	}
	return c
}

// Start begins connecting to the server. Start does not block.
func (c *Client) Start() {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.running = true
	c.conn.Start()
}

// Stop stops reconnecting and unbinds the current session, if any. Requests
// still pending fail with ErrDisconnected when the session closes.
func (c *Client) Stop() {
	c.μ.Lock()
	c.running = false
	c.retry.Stop()
	c.retry = nil
	s := c.session
	c.μ.Unlock()

	c.conn.Stop()
	if s != nil {
		s.Unbind()
	}
}

// Peer reports the identity of the server, or "" if the client is not bound.
func (c *Client) Peer() string {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.peer
}

// IsBound reports whether c has a bound session that is open.
func (c *Client) IsBound() bool {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.session != nil && c.session.IsOpen()
}

// Send sends a request to the server and tracks it until its response
// arrives or it times out. The outcome is passed to done, or to the OnResult
// handler if done == nil. If Send reports an error, the request was not sent
// and done is not called.
func (c *Client) Send(req binder.PDU, done func(Result)) (uint32, error) {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.session == nil {
		return 0, ErrNotBound
	}
	seq, err := c.session.Send(req)
	if err != nil {
		return 0, err
	}
	c.track.track(seq, req, done)
	c.throttleLocked()
	return seq, nil
}

// Notify sends a request to the server without tracking it. Any response is
// discarded.
func (c *Client) Notify(req binder.PDU) (uint32, error) {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.session == nil {
		return 0, ErrNotBound
	}
	seq, err := c.session.Send(req)
	if err == nil {
		c.throttleLocked()
	}
	return seq, err
}

// Reply sends a response to a request from the server.
func (c *Client) Reply(rsp binder.PDU, seq, status uint32) error {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.session == nil {
		return ErrNotBound
	}
	if err := c.session.Reply(rsp, seq, status); err != nil {
		return err
	}
	c.throttleLocked()
	return nil
}

// Call sends a tracked request and blocks until its outcome is known or ctx
// ends. Call must not be called from a handler running on the client's loop.
func (c *Client) Call(ctx context.Context, req binder.PDU) (Result, error) {
	ch := make(chan Result, 1)
	if _, err := c.Send(req, func(r Result) { ch <- r }); err != nil {
		return Result{}, err
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		return r, r.Err
	}
}

// throttleLocked stops receiving while the outbound queue is congested. The
// session resumes when its send buffer becomes available.
func (c *Client) throttleLocked() {
	if c.session.AboveThreshold() {
		c.log.Debug().Str("peer", c.peer).Msg("send buffer above threshold")
		c.session.PauseReceiving()
	}
}

// bound runs on the loop when the connector completes a bind.
func (c *Client) bound(rsp binder.BindResponse, s *binder.Session) {
	peer := rsp.Identity()
	t := newTracker(peer, c.cfg.Protocol, c.cfg.Timeout, c.cfg.Tick, c.cfg.Handlers.OnResult, c.log)

	c.μ.Lock()
	if !c.running {
		c.μ.Unlock()
		s.Unbind()
		return
	}
	c.session, c.track, c.peer = s, t, peer
	c.μ.Unlock()

	t.exp.Start(c.cfg.Loop)
	s.Handle(binder.Handlers{
		OnRequest: func(_ *binder.Session, req binder.PDU, seq uint32) {
			if h := c.cfg.Handlers.OnRequest; h != nil {
				h(peer, req, seq)
			}
		},
		OnResponse: func(_ *binder.Session, rsp binder.PDU, seq, status uint32) {
			c.μ.Lock() // synchronize with Send
			pending, ok := t.take(seq)
			c.μ.Unlock()
			t.respond(seq, pending, ok, rsp, status)
		},
		OnClose: func(s *binder.Session, err error) { c.closed(s, t, err) },
		OnSendBufferAvailable: func(s *binder.Session) {
			s.ResumeReceiving()
		},
		OnDecodeError: func(_ *binder.Session, err *binder.DecodeError) {
			c.log.Error().Err(err).Str("peer", peer).Msg("decode failed")
		},
	})
	s.LogFrames(c.cfg.LogFrames)
	c.log.Info().Str("peer", peer).Str("addr", c.cfg.Addr).Msg("client bound")
	c.cfg.Handlers.session(peer, Bound)
}

// closed runs on the loop when the bound session closes.
func (c *Client) closed(s *binder.Session, t *tracker, err error) {
	c.μ.Lock()
	if c.session == s {
		c.session, c.track, c.peer = nil, nil, ""
	}
	c.μ.Unlock()

	if err != nil {
		c.log.Warn().Err(err).Str("peer", t.peer).Msg("session closed")
	} else {
		c.log.Info().Str("peer", t.peer).Msg("session closed")
	}
	t.abandon(ErrDisconnected)
	c.cfg.Handlers.session(t.peer, Closed)
	c.reconnect()
}

// bindError runs on the loop when a bind attempt fails.
func (c *Client) bindError(err error) {
	c.log.Warn().Err(err).Str("addr", c.cfg.Addr).Msg("bind failed")
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.running && c.cfg.AutoReconnect {
		c.retry.Stop()
		c.retry = c.cfg.Loop.AfterFunc(c.cfg.RetryInterval, c.reconnect)
	}
}

func (c *Client) reconnect() {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.running && c.cfg.AutoReconnect {
		c.conn.Start()
	}
}
