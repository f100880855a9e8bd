package main

import (
	"context"
	"expvar"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/creachadair/binder"
	"github.com/creachadair/binder/exchange"
	"github.com/creachadair/binder/handler"
	"github.com/creachadair/binder/loop"
	"github.com/creachadair/binder/pinex"
	"github.com/creachadair/binder/smpp"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/rs/zerolog"
)

var serveFlags struct {
	Listen  string `flag:"listen,Listen address, overriding the configuration"`
	Metrics string `flag:"metrics,Address for the metrics endpoint, overriding the configuration"`
}

var serveCommand = &command.C{
	Name:  "serve",
	Usage: "[--listen addr]",
	Help: `Accept client binds and answer their requests.

PINEX stream requests are echoed back to the sender. SMPP submit_sm requests
are acknowledged with a fresh message ID, and deliver_sm requests with an
empty one. If the configuration lists accounts, only those system IDs may
bind.`,
	SetFlags: command.Flags(flax.MustBind, &serveFlags),
	Run: func(env *command.Env) error {
		if len(env.Args) != 0 {
			return env.Usagef("extra arguments: %q", env.Args)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveFlags.Listen != "" {
			cfg.Listen = serveFlags.Listen
		}
		if serveFlags.Metrics != "" {
			cfg.Metrics = serveFlags.Metrics
		}
		log, err := newLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		proto, _ := protocolByName(cfg.Protocol) // checked by Validate

		if cfg.Metrics != "" {
			expvar.Publish("binder", binder.Metrics())
			go func() {
				err := http.ListenAndServe(cfg.Metrics, nil) // serves /debug/vars
				log.Error().Err(err).Str("addr", cfg.Metrics).Msg("metrics endpoint exited")
			}()
		}

		lst, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return err
		}
		lp := loop.New()
		defer lp.Stop()

		var srv *exchange.Server
		mux := newMux(proto, func(peer string, rsp binder.PDU, seq, status uint32) error {
			return srv.Reply(peer, rsp, seq, status)
		}, &log)
		srv = exchange.NewServer(exchange.ServerConfig{
			Loop:         lp,
			Listener:     lst,
			Protocol:     proto,
			SystemID:     cfg.SystemID,
			Timeout:      cfg.Timeout,
			Authenticate: cfg.authenticator(proto),
			Options:      cfg.Options(),
			Handlers: exchange.Handlers{
				OnRequest: mux.Dispatch,
				OnSession: func(peer string, st exchange.Stat) {
					log.Info().Str("peer", peer).Stringer("stat", st).Msg("session")
				},
			},
			LogFrames: frameLogger(cfg, &log, proto),
			Logger:    &log,
		})
		srv.Start()
		log.Info().Str("addr", srv.Addr().String()).Str("protocol", proto.Name).Msg("serving")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		log.Info().Msg("shutting down")
		srv.Stop()
		return nil
	},
}

// newMux returns the request routes served for p. Responses are sent with
// reply.
func newMux(p *binder.Protocol, reply handler.ReplyFunc, log *zerolog.Logger) *handler.Mux {
	onError := func(err error) { log.Error().Err(err).Msg("reply failed") }
	mux := handler.NewMux().Fallback(func(peer string, req binder.PDU, seq uint32) {
		log.Warn().Str("peer", peer).Str("command", p.CommandName(req.CommandID())).Uint32("seq", seq).Msg("unhandled request")
	})

	switch p {
	case pinex.Protocol:
		mux.Handle(pinex.CmdStream, handler.Respond(reply, func(peer string, req *pinex.StreamRequest) (binder.PDU, uint32) {
			log.Debug().Str("peer", peer).Int("len", len(req.Body)).Msg("stream")
			return &pinex.StreamResponse{Body: req.Body}, pinex.StatusOK
		}, onError))

	case smpp.Protocol:
		var lastID atomic.Uint64
		nextID := func() string { return strconv.FormatUint(lastID.Add(1), 16) }
		mux.Handle(smpp.CmdSubmitSM, handler.Respond(reply, func(peer string, req *smpp.SubmitSM) (binder.PDU, uint32) {
			if req.DestAddr == "" {
				return &smpp.SubmitSMResp{}, smpp.StatusInvalidDstAddr
			}
			id := nextID()
			log.Info().Str("peer", peer).Str("to", req.DestAddr).Str("id", id).Msg("submit_sm")
			return &smpp.SubmitSMResp{MessageID: id}, smpp.StatusOK
		}, onError))
		mux.Handle(smpp.CmdDeliverSM, handler.Respond(reply, func(peer string, req *smpp.DeliverSM) (binder.PDU, uint32) {
			log.Info().Str("peer", peer).Str("from", req.SourceAddr).Msg("deliver_sm")
			return &smpp.DeliverSMResp{}, smpp.StatusOK
		}, onError))

	default:
		log.Warn().Str("protocol", p.Name).Msg("no request routes")
	}
	return mux
}
