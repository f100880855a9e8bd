// Program binder is a command-line utility for interacting with PINEX and
// SMPP peers.
package main

import (
	"os"
	"path/filepath"

	"github.com/creachadair/binder"
	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/mds/value"
	"github.com/rs/zerolog"
)

var flags struct {
	Config    string `flag:"config,Configuration file (TOML)"`
	Protocol  string `flag:"protocol,Protocol name (pinex or smpp), overriding the configuration"`
	LogLevel  string `flag:"log-level,Log level, overriding the configuration"`
	LogFrames bool   `flag:"log-frames,Log every frame sent and received"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Help:     "Utilities for interacting with PINEX and SMPP peers.",
		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			serveCommand,
			sendCommand,
			packCommand,
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// loadConfig loads the configuration named by the flags, and applies the
// flag overrides.
func loadConfig() (Config, error) {
	cfg, err := LoadConfig(flags.Config)
	if err != nil {
		return Config{}, err
	}
	if flags.Protocol != "" {
		cfg.Protocol = flags.Protocol
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}
	cfg.LogFrames = cfg.LogFrames || flags.LogFrames
	return cfg, cfg.Validate()
}

// frameLogger returns a frame logger that writes to log, or nil if frame
// logging is disabled in cfg.
func frameLogger(cfg Config, log *zerolog.Logger, p *binder.Protocol) binder.FrameLogger {
	if !cfg.LogFrames {
		return nil
	}
	return func(fi binder.FrameInfo) {
		log.Info().
			Str("dir", value.Cond(fi.Sent, "send", "recv")).
			Str("command", p.CommandName(fi.CommandID)).
			Uint32("seq", fi.Sequence).
			Str("status", p.StatusString(fi.Status)).
			Uint32("len", fi.Length).
			Msg("frame")
	}
}
