package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/exchange"
	"github.com/creachadair/binder/loop"
	"github.com/creachadair/binder/pinex"
	"github.com/creachadair/binder/smpp"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
)

var sendFlags struct {
	Addr string `flag:"addr,Server address, overriding the configuration"`
	To   string `flag:"to,Destination address for SMPP messages"`
}

var sendCommand = &command.C{
	Name:  "send",
	Usage: "[--addr host:port] <message>...",
	Help: `Bind to a server and send each message as a request.

Each message is sent as a PINEX stream request or an SMPP submit_sm, and the
command waits for its response before sending the next. The outcome of each
request is printed to stdout.`,
	SetFlags: command.Flags(flax.MustBind, &sendFlags),
	Run: func(env *command.Env) error {
		if len(env.Args) == 0 {
			return env.Usagef("no messages to send")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if sendFlags.Addr != "" {
			cfg.Addr = sendFlags.Addr
		}
		log, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		proto, _ := protocolByName(cfg.Protocol) // checked by Validate

		lp := loop.New()
		defer lp.Stop()

		stats := make(chan exchange.Stat, 4)
		cli := exchange.NewClient(exchange.ClientConfig{
			Loop:          lp,
			Addr:          cfg.Addr,
			Protocol:      proto,
			Bind:          bindRequest(proto, cfg),
			Timeout:       cfg.Timeout,
			RetryInterval: cfg.Retry,
			Options:       cfg.Options(),
			Handlers: exchange.Handlers{
				OnSession: func(_ string, st exchange.Stat) {
					select {
					case stats <- st:
					default:
					}
				},
			},
			LogFrames: frameLogger(cfg, &log, proto),
			Logger:    &log,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cli.Start()
		defer func() {
			cli.Stop()
			select {
			case <-stats: // closed
			case <-time.After(time.Second):
				log.Warn().Msg("unbind not acknowledged")
			}
		}()

		select {
		case <-stats:
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Timeout):
			return fmt.Errorf("%w to %s after %v", errNotBound, cfg.Addr, cfg.Timeout)
		}

		for _, msg := range env.Args {
			r, err := cli.Call(ctx, messageRequest(proto, msg, sendFlags.To))
			if err != nil && !errors.Is(err, exchange.ErrTimeout) {
				return err
			}
			fmt.Printf("%d\t%s\t%s\n", r.Seq, proto.StatusString(r.Status), describe(r.Response))
		}
		return nil
	},
}

// errNotBound is reported when a client gives up waiting for a bind.
var errNotBound = errors.New("not bound")

// bindRequest returns the bind request for p described by cfg.
func bindRequest(p *binder.Protocol, cfg Config) binder.BindRequest {
	if p == smpp.Protocol {
		return &smpp.BindRequest{
			BindType:         smpp.BindTransceiver,
			SystemID:         cfg.SystemID,
			Password:         cfg.Password,
			InterfaceVersion: smpp.InterfaceVersion34,
		}
	}
	return &pinex.BindRequest{BindType: pinex.BindBidirectional, SystemID: cfg.SystemID}
}

// messageRequest returns a request for p carrying msg.
func messageRequest(p *binder.Protocol, msg, to string) binder.PDU {
	if p == smpp.Protocol {
		return &smpp.SubmitSM{DestAddr: to, ShortMessage: msg}
	}
	return &pinex.StreamRequest{Body: msg}
}

// describe renders the interesting part of a response.
func describe(rsp binder.PDU) string {
	switch t := rsp.(type) {
	case nil:
		return "-"
	case *pinex.StreamResponse:
		return fmt.Sprintf("%q", t.Body)
	case *smpp.SubmitSMResp:
		return "id=" + t.MessageID
	case smpp.GenericNack:
		return "generic_nack"
	}
	return fmt.Sprintf("%T", rsp)
}
