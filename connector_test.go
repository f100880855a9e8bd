// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package binder_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/loop"
	"github.com/creachadair/binder/peers"
	"github.com/creachadair/binder/pinex"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

// recv waits for a value from ch.
func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTime):
		t.Fatalf("Timed out waiting for %s", what)
	}
	panic("unreachable")
}

// newAcceptor returns an unstarted acceptor for pinex on a loopback port.
func newAcceptor(t *testing.T, lp *loop.Loop) *binder.Acceptor {
	t.Helper()
	lst, err := peers.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return &binder.Acceptor{
		Loop:     lp,
		Listener: lst,
		Protocol: pinex.Protocol,
		SystemID: "server",
	}
}

// echo replies to each stream request with its body.
func echo(s *binder.Session, req binder.PDU, seq uint32) {
	if sr, ok := req.(*pinex.StreamRequest); ok {
		s.Reply(&pinex.StreamResponse{Body: sr.Body}, seq, pinex.StatusOK)
	}
}

func TestBind(t *testing.T) {
	defer leaktest.Check(t)()

	lp := loop.New()
	defer lp.Stop()

	serverSide := make(chan *binder.Session, 1)
	serverClosed := make(chan error, 1)
	acc := newAcceptor(t, lp)
	acc.Authenticate = func(req binder.BindRequest, ip string) uint32 {
		if ip != "127.0.0.1" || req.Identity() != "client" {
			return pinex.StatusFail
		}
		return pinex.StatusOK
	}
	acc.OnBind = func(req binder.BindRequest, s *binder.Session) bool {
		s.Handle(binder.Handlers{
			OnRequest: echo,
			OnClose:   func(_ *binder.Session, err error) { serverClosed <- err },
		})
		serverSide <- s
		return true
	}
	acc.Start()
	defer acc.Stop()

	type bound struct {
		rsp binder.BindResponse
		s   *binder.Session
	}
	clientSide := make(chan bound, 1)
	clientClosed := make(chan error, 1)
	responses := make(chan string, 4)
	con := &binder.Connector{
		Loop:     lp,
		Addr:     acc.Addr().String(),
		Protocol: pinex.Protocol,
		Bind:     &pinex.BindRequest{BindType: pinex.BindSendOnly, SystemID: "client"},
		OnBind: func(rsp binder.BindResponse, s *binder.Session) {
			s.Handle(binder.Handlers{
				OnResponse: func(_ *binder.Session, rsp binder.PDU, seq, status uint32) {
					responses <- rsp.(*pinex.StreamResponse).Body
				},
				OnClose: func(_ *binder.Session, err error) { clientClosed <- err },
			})
			clientSide <- bound{rsp, s}
		},
		OnError: func(err error) { t.Errorf("Bind: unexpected error: %v", err) },
	}
	con.Start()
	defer con.Stop()

	cb := recv(t, clientSide, "client bind")
	ss := recv(t, serverSide, "server bind")
	if diff := cmp.Diff(cb.rsp, &pinex.BindResponse{BindType: pinex.BindSendOnly, SystemID: "server"}); diff != "" {
		t.Errorf("Bind response (-got, +want):\n%s", diff)
	}
	if ip, port := cb.s.RemoteEndpoint(); ip != "127.0.0.1" || port == 0 {
		t.Errorf("Client RemoteEndpoint: got (%q, %d), want loopback", ip, port)
	}

	for _, body := range []string{"alpha", "bravo"} {
		if _, err := cb.s.Send(&pinex.StreamRequest{Body: body}); err != nil {
			t.Fatalf("Send: %v", err)
		}
		if got := recv(t, responses, "response"); got != body {
			t.Errorf("Response: got %q, want %q", got, body)
		}
	}

	cb.s.Unbind()
	if err := recv(t, clientClosed, "client close"); err != nil {
		t.Errorf("Client close: got error %v, want nil", err)
	}
	if err := recv(t, serverClosed, "server close"); err != nil {
		t.Errorf("Server close: got error %v, want nil", err)
	}
	cb.s.Wait()
	ss.Wait()
}

func TestBindRejected(t *testing.T) {
	defer leaktest.Check(t)()

	lp := loop.New()
	defer lp.Stop()

	acc := newAcceptor(t, lp)
	acc.Authenticate = func(binder.BindRequest, string) uint32 { return pinex.StatusDuplicateBind }
	acc.OnBind = func(binder.BindRequest, *binder.Session) bool {
		t.Error("OnBind called for a rejected bind")
		return false
	}
	acc.Start()
	defer acc.Stop()

	errc := make(chan error, 1)
	con := &binder.Connector{
		Loop:     lp,
		Addr:     acc.Addr().String(),
		Protocol: pinex.Protocol,
		Bind:     &pinex.BindRequest{SystemID: "client"},
		OnBind:   func(binder.BindResponse, *binder.Session) { t.Error("OnBind called for a rejected bind") },
		OnError:  func(err error) { errc <- err },
	}
	con.Start()
	defer con.Stop()

	err := recv(t, errc, "bind error")
	var berr *binder.BindError
	if !errors.As(err, &berr) {
		t.Fatalf("Bind: got %v, want *BindError", err)
	}
	if berr.Status != pinex.StatusDuplicateBind || berr.Text != "duplicate bind" {
		t.Errorf("Bind error: got %+v, want duplicate bind", berr)
	}
}

func TestRequestBeforeBind(t *testing.T) {
	defer leaktest.Check(t)()

	lp := loop.New()
	defer lp.Stop()

	serverClosed := make(chan error, 1)
	acc := newAcceptor(t, lp)
	acc.OnBind = func(req binder.BindRequest, s *binder.Session) bool {
		s.Handle(binder.Handlers{
			OnRequest: echo,
			OnClose:   func(_ *binder.Session, err error) { serverClosed <- err },
		})
		return true
	}
	acc.Start()
	defer acc.Stop()

	conn, err := net.Dial("tcp", acc.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	peer := &rawPeer{t: t, proto: pinex.Protocol, conn: conn}

	// The request preceding the bind is discarded without a reply.
	var data []byte
	data = append(data, frame(pinex.Protocol, pinex.CmdStream, 0, 1, &pinex.StreamRequest{Body: "early"})...)
	data = append(data, frame(pinex.Protocol, pinex.CmdBind, 0, 2, &pinex.BindRequest{SystemID: "raw"})...)
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	hdr, pdu := peer.read()
	if hdr.CommandID != pinex.CmdBindResp || hdr.Sequence != 2 || hdr.Status != pinex.StatusOK {
		t.Errorf("First reply: got %v, want bind_resp seq 2", hdr)
	}
	if diff := cmp.Diff(pdu, &pinex.BindResponse{SystemID: "server"}); diff != "" {
		t.Errorf("Bind response (-got, +want):\n%s", diff)
	}

	peer.write(pinex.CmdStream, 0, 3, &pinex.StreamRequest{Body: "late"})
	hdr, pdu = peer.read()
	if hdr.CommandID != pinex.CmdStreamResp || hdr.Sequence != 3 {
		t.Errorf("Reply: got %v, want stream_resp seq 3", hdr)
	}
	if diff := cmp.Diff(pdu, &pinex.StreamResponse{Body: "late"}); diff != "" {
		t.Errorf("Stream response (-got, +want):\n%s", diff)
	}

	conn.Close()
	if err := recv(t, serverClosed, "server close"); err == nil {
		t.Error("Server close: got nil error for a dropped connection")
	}
}

func TestConnectRetry(t *testing.T) {
	defer leaktest.Check(t)()

	lp := loop.New()
	defer lp.Stop()

	acc := newAcceptor(t, lp)
	acc.OnBind = func(binder.BindRequest, *binder.Session) bool { return true }
	acc.Start()
	defer acc.Stop()

	var attempts atomic.Int32
	bound := make(chan *binder.Session, 1)
	con := &binder.Connector{
		Loop:          lp,
		Addr:          acc.Addr().String(),
		Protocol:      pinex.Protocol,
		Bind:          &pinex.BindRequest{SystemID: "client"},
		RetryInterval: 10 * time.Millisecond,
		Dial: func(ctx context.Context, addr string) (net.Conn, error) {
			if attempts.Add(1) <= 2 {
				return nil, errors.New("connection refused")
			}
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
		OnBind:  func(_ binder.BindResponse, s *binder.Session) { bound <- s },
		OnError: func(err error) { t.Errorf("Bind: unexpected error: %v", err) },
	}
	con.Start()
	defer con.Stop()

	s := recv(t, bound, "client bind")
	if n := attempts.Load(); n != 3 {
		t.Errorf("Dial attempts: got %d, want 3", n)
	}
	s.Close()
	s.Wait()
}

func TestBindRefusedByOwner(t *testing.T) {
	defer leaktest.Check(t)()

	lp := loop.New()
	defer lp.Stop()

	acc := newAcceptor(t, lp)
	acc.OnBind = func(binder.BindRequest, *binder.Session) bool { return false }
	acc.Start()
	defer acc.Stop()

	clientClosed := make(chan error, 1)
	bound := make(chan *binder.Session, 1)
	con := &binder.Connector{
		Loop:     lp,
		Addr:     acc.Addr().String(),
		Protocol: pinex.Protocol,
		Bind:     &pinex.BindRequest{SystemID: "client"},
		OnBind: func(_ binder.BindResponse, s *binder.Session) {
			s.Handle(binder.Handlers{
				OnClose: func(_ *binder.Session, err error) { clientClosed <- err },
			})
			bound <- s
		},
	}
	con.Start()
	defer con.Stop()

	s := recv(t, bound, "client bind")
	if err := recv(t, clientClosed, "client close"); err != nil {
		t.Errorf("Client close: got error %v, want nil", err)
	}
	s.Wait()
}

func TestAcceptorTimeouts(t *testing.T) {
	const timeout = 30 * time.Millisecond

	t.Run("NoBind", func(t *testing.T) {
		defer leaktest.Check(t)()

		lp := loop.New()
		defer lp.Stop()

		acc := newAcceptor(t, lp)
		acc.Options = binder.Options{BindTimeout: timeout}
		acc.OnBind = func(binder.BindRequest, *binder.Session) bool {
			t.Error("Unexpected bind")
			return false
		}
		acc.Start()
		defer acc.Stop()

		conn, err := net.Dial("tcp", acc.Addr().String())
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		defer conn.Close()
		peer := &rawPeer{t: t, proto: pinex.Protocol, conn: conn}

		// A silent peer is disconnected without a reply.
		if hdr, _, err := peer.tryRead(); err == nil {
			t.Errorf("Read: got %v, want error", hdr)
		}
	})

	t.Run("RefusedUnbind", func(t *testing.T) {
		defer leaktest.Check(t)()

		lp := loop.New()
		defer lp.Stop()

		serverClosed := make(chan error, 1)
		acc := newAcceptor(t, lp)
		acc.Options = binder.Options{UnbindTimeout: timeout}
		acc.OnBind = func(_ binder.BindRequest, s *binder.Session) bool {
			s.Handle(binder.Handlers{
				OnClose: func(_ *binder.Session, err error) { serverClosed <- err },
			})
			return false
		}
		acc.Start()
		defer acc.Stop()

		conn, err := net.Dial("tcp", acc.Addr().String())
		if err != nil {
			t.Fatalf("Dial: %v", err)
		}
		defer conn.Close()
		peer := &rawPeer{t: t, proto: pinex.Protocol, conn: conn}

		peer.write(pinex.CmdBind, 0, 1, &pinex.BindRequest{SystemID: "quiet"})
		if hdr, _ := peer.read(); hdr.CommandID != pinex.CmdBindResp || hdr.Status != pinex.StatusOK {
			t.Errorf("Read: got %v, want bind_resp ok", hdr)
		}
		if hdr, _ := peer.read(); hdr.CommandID != pinex.CmdUnbind {
			t.Errorf("Read: got %v, want unbind", hdr)
		}

		// The unbind is never acknowledged, so the server gives up.
		if err := recv(t, serverClosed, "server close"); !errors.Is(err, binder.ErrUnbindTimeout) {
			t.Errorf("Server close: got error %v, want %v", err, binder.ErrUnbindTimeout)
		}
		if hdr, _, err := peer.tryRead(); err == nil {
			t.Errorf("Read: got %v, want error", hdr)
		}
	})
}

func TestKeepAliveTimeout(t *testing.T) {
	defer leaktest.Check(t)()

	lp := loop.New()
	defer lp.Stop()

	serverClosed := make(chan error, 1)
	acc := newAcceptor(t, lp)
	acc.Options = binder.Options{
		KeepAlive: binder.KeepAlive{EnquireInterval: 10 * time.Millisecond, EnquireMisses: 3},
	}
	acc.OnBind = func(req binder.BindRequest, s *binder.Session) bool {
		s.Handle(binder.Handlers{
			OnClose: func(_ *binder.Session, err error) { serverClosed <- err },
		})
		return true
	}
	acc.Start()
	defer acc.Stop()

	conn, err := net.Dial("tcp", acc.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	peer := &rawPeer{t: t, proto: pinex.Protocol, conn: conn}
	peer.write(pinex.CmdBind, 0, 1, &pinex.BindRequest{SystemID: "silent"})
	if hdr, _ := peer.read(); hdr.CommandID != pinex.CmdBindResp {
		t.Fatalf("Bind: got %v, want bind_resp", hdr)
	}

	// Read probes without answering them, until the server hangs up.
	var probes int
	for {
		hdr, _, err := peer.tryRead()
		if err != nil {
			break
		}
		if hdr.CommandID == pinex.CmdEnquireLink {
			probes++
		}
	}
	if probes != 2 {
		t.Errorf("Probes: got %d, want 2", probes)
	}
	if err := recv(t, serverClosed, "server close"); !errors.Is(err, binder.ErrKeepAlive) {
		t.Errorf("Server close: got error %v, want %v", err, binder.ErrKeepAlive)
	}
}

func TestAcceptorStop(t *testing.T) {
	defer leaktest.Check(t)()

	lp := loop.New()
	defer lp.Stop()

	acc := newAcceptor(t, lp)
	acc.Start()

	conn, err := net.Dial("tcp", acc.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// Wait for the connection to be accepted. Probes are answered even before
	// the session is bound.
	peer := &rawPeer{t: t, proto: pinex.Protocol, conn: conn}
	peer.write(pinex.CmdEnquireLink, 0, 1, nil)
	if hdr, _ := peer.read(); hdr.CommandID != pinex.CmdEnquireLinkResp {
		t.Fatalf("Probe: got %v, want enquire_link_resp", hdr)
	}

	acc.Stop()
	_, _, err = peer.tryRead()
	var nerr net.Error
	if err == nil || (errors.As(err, &nerr) && nerr.Timeout()) {
		t.Errorf("Read after stop: got %v, want connection closed", err)
	}
	if _, err := net.DialTimeout("tcp", acc.Addr().String(), time.Second); err == nil {
		t.Error("Dial after stop: got nil error, want error")
	}
}
