// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package binder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/creachadair/binder/loop"
	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"
)

// DefaultRetryInterval is the delay between connection attempts used by a
// Connector whose RetryInterval is zero.
const DefaultRetryInterval = 5 * time.Second

// ErrClosedBeforeBind is reported by a Connector when its session closes
// before the bind handshake completes.
var ErrClosedBeforeBind = errors.New("binder: session closed before bind completed")

// A BindError reports that the remote peer refused a bind request.
type BindError struct {
	Status uint32 // the status reported in the bind response
	Text   string // a human-readable rendering of Status
}

// Error satisfies the error interface.
func (b *BindError) Error() string { return "binder: bind refused: " + b.Text }

// A Connector establishes a bound client session with a remote server.
//
// Start dials Addr, retrying every RetryInterval until a connection succeeds.
// It then sends Bind and waits for the bind response. If the server accepts,
// the bound session is delivered to OnBind; if the server refuses, or the
// session closes first, the failure is reported to OnError and the session is
// discarded. A Connector does not retry a failed handshake on its own; call
// Start again to make another attempt.
//
// The Loop, Addr, Protocol, and Bind fields must be set before calling Start.
type Connector struct {
	Loop     *loop.Loop
	Addr     string      // host:port of the server
	Protocol *Protocol   // protocol spoken by the server
	Bind     BindRequest // sent to the server once connected

	// RetryInterval is the delay between connection attempts. If zero,
	// DefaultRetryInterval is used.
	RetryInterval time.Duration

	// Dial opens a connection to addr. If nil, a TCP connection is made with
	// a net.Dialer.
	Dial func(ctx context.Context, addr string) (net.Conn, error)

	// Options are applied to each session created by the connector.
	Options Options

	// OnBind is called on the loop with the server's bind response and the
	// bound session. The session has no handlers when OnBind is called;
	// OnBind should install them. Inbound PDUs are not delivered until OnBind
	// returns.
	OnBind func(rsp BindResponse, s *Session)

	// OnError is called on the loop if a bind attempt fails after a
	// connection was established.
	OnError func(err error)

	// Logger receives diagnostic logs. If nil, logs are discarded.
	Logger *zerolog.Logger

	μ       sync.Mutex
	tasks   *taskgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	active  bool        // a connection or handshake is in progress
	retry   *loop.Timer // pending retry, if any
	binding *Session    // session awaiting its bind response
}

func (c *Connector) log() *zerolog.Logger {
	if c.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return c.Logger
}

func (c *Connector) retryInterval() time.Duration {
	if c.RetryInterval > 0 {
		return c.RetryInterval
	}
	return DefaultRetryInterval
}

// Start begins connecting to the server. If an attempt is already in
// progress, Start does nothing. Start does not block.
func (c *Connector) Start() {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.active {
		return
	}
	if c.tasks == nil {
		c.ctx, c.cancel = context.WithCancel(context.Background())
		c.tasks = taskgroup.New(nil)
	}
	c.active = true
	c.dialLocked()
}

// Stop cancels any connection attempt in progress and closes a session that
// has not yet completed its bind. Sessions already delivered to OnBind are
// not affected. Stop blocks until the connector's goroutines have exited.
// After Stop returns, the connector may be started again.
func (c *Connector) Stop() {
	c.μ.Lock()
	if c.tasks == nil {
		c.μ.Unlock()
		return
	}
	c.cancel()
	c.retry.Stop()
	sess := c.binding
	tasks := c.tasks
	c.tasks, c.retry, c.binding, c.active = nil, nil, nil, false
	c.μ.Unlock()

	if sess != nil {
		sess.Handle(Handlers{}).Close()
	}
	tasks.Wait()
}

func (c *Connector) dialLocked() {
	ctx, addr := c.ctx, c.Addr
	dial := c.Dial
	if dial == nil {
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	c.tasks.Go(func() error {
		conn, err := dial(ctx, addr)
		if !c.Loop.Post(func() { c.connected(ctx, conn, err) }) && conn != nil {
			conn.Close()
		}
		return nil
	})
}

// connected runs on the loop when a dial attempt finishes.
func (c *Connector) connected(ctx context.Context, conn net.Conn, err error) {
	c.μ.Lock()
	defer c.μ.Unlock()
	if ctx.Err() != nil || c.ctx != ctx {
		if conn != nil {
			conn.Close() // stopped while dialing
		}
		return
	}
	if err != nil {
		rootMetrics.connectRetries.Add(1)
		c.log().Warn().Err(err).Str("addr", c.Addr).Dur("retry", c.retryInterval()).Msg("connect failed")
		c.retry = c.Loop.AfterFunc(c.retryInterval(), func() {
			c.μ.Lock()
			defer c.μ.Unlock()
			if c.ctx == ctx && ctx.Err() == nil {
				c.dialLocked()
			}
		})
		return
	}

	c.log().Debug().Str("addr", c.Addr).Msg("connected")
	var bindSeq uint32
	s := NewSession(c.Loop, conn, c.Protocol, c.Options)
	s.Handle(Handlers{
		OnResponse: func(s *Session, rsp PDU, seq, status uint32) {
			if seq == bindSeq {
				c.bindResponse(s, rsp, status)
			}
		},
		OnClose: func(s *Session, err error) {
			c.bindFailed(s, fmt.Errorf("%w: %w", ErrClosedBeforeBind, errOr(err, net.ErrClosed)))
		},
		OnDecodeError: func(s *Session, err *DecodeError) {
			c.log().Error().Err(err).Str("addr", c.Addr).Msg("decoding bind response")
		},
	})
	c.binding = s
	s.Start()

	seq, err := s.Send(c.Bind)
	if err != nil {
		c.log().Error().Err(err).Msg("sending bind request")
		s.Close()
		return
	}
	bindSeq = seq
}

// errOr returns err if it is non-nil, otherwise def.
func errOr(err, def error) error {
	if err != nil {
		return err
	}
	return def
}

// bindResponse runs on the loop when the bind response arrives.
func (c *Connector) bindResponse(s *Session, rsp PDU, status uint32) {
	c.μ.Lock()
	if c.binding != s {
		c.μ.Unlock()
		return
	}
	c.binding = nil
	c.active = false
	c.μ.Unlock()

	s.Handle(Handlers{}) // detach the handshake handlers
	br, ok := rsp.(BindResponse)
	if status != c.Protocol.StatusOK || !ok {
		err := &BindError{Status: status, Text: c.Protocol.StatusString(status)}
		if status == c.Protocol.StatusOK {
			err.Text = fmt.Sprintf("unexpected response %T", rsp)
		}
		c.log().Warn().Err(err).Str("addr", c.Addr).Msg("bind rejected")
		s.Close()
		c.Loop.Post(func() { c.reportError(err) })
		return
	}

	rootMetrics.bindCompleted.Add(1)
	c.log().Info().Str("addr", c.Addr).Str("system_id", br.Identity()).Msg("bound")
	s.PauseReceiving()
	s.startEnquireLink()
	c.Loop.Post(func() {
		if c.OnBind != nil {
			c.OnBind(br, s)
		}
		s.ResumeReceiving()
	})
}

// bindFailed runs on the loop when the session closes before binding.
func (c *Connector) bindFailed(s *Session, err error) {
	c.μ.Lock()
	if c.binding != s {
		c.μ.Unlock()
		return
	}
	c.binding = nil
	c.active = false
	c.μ.Unlock()

	c.log().Warn().Err(err).Str("addr", c.Addr).Msg("bind failed")
	c.reportError(err)
}

func (c *Connector) reportError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}
