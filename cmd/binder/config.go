package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creachadair/binder"
	"github.com/creachadair/binder/exchange"
	"github.com/creachadair/binder/pinex"
	"github.com/creachadair/binder/smpp"
	"github.com/rs/zerolog"
)

// Config is the configuration shared by the subcommands.
type Config struct {
	Protocol  string            // protocol name, "pinex" or "smpp"
	Listen    string            // serve: listen address
	Addr      string            // send: server address
	Metrics   string            // serve: if set, address for the metrics endpoint
	SystemID  string            // bind identity
	Password  string            // send: bind password (smpp only)
	Timeout   time.Duration     // request timeout
	Retry     time.Duration     // delay between connection attempts
	BindWait  time.Duration     // serve: limit on waiting for a bind request
	Unbind    time.Duration     // limit on completing an unbind
	LogLevel  string            // zerolog level name
	LogFrames bool              // log every frame sent and received
	KeepAlive binder.KeepAlive  // overrides the protocol defaults
	Accounts  map[string]string // serve: system ID → password; empty accepts all
}

// DefaultConfig returns the settings used for anything a configuration file
// does not define.
func DefaultConfig() Config {
	return Config{
		Protocol: "smpp",
		Listen:   "127.0.0.1:2775",
		Addr:     "127.0.0.1:2775",
		SystemID: "binder",
		Timeout:  exchange.DefaultTimeout,
		Retry:    binder.DefaultRetryInterval,
		LogLevel: "info",
	}
}

type fileConfig struct {
	Protocol      string `toml:"protocol"`
	Listen        string `toml:"listen"`
	Addr          string `toml:"addr"`
	Metrics       string `toml:"metrics"`
	SystemID      string `toml:"system_id"`
	Password      string `toml:"password"`
	Timeout       string `toml:"timeout"`
	RetryInterval string `toml:"retry_interval"`
	BindTimeout   string `toml:"bind_timeout"`
	UnbindTimeout string `toml:"unbind_timeout"`
	LogLevel      string `toml:"log_level"`
	LogFrames     bool   `toml:"log_frames"`

	KeepAlive struct {
		Inactivity       string `toml:"inactivity"`
		InactivityMisses int    `toml:"inactivity_misses"`
		Enquire          string `toml:"enquire"`
		EnquireMisses    int    `toml:"enquire_misses"`
	} `toml:"keepalive"`

	Accounts []struct {
		SystemID string `toml:"system_id"`
		Password string `toml:"password"`
	} `toml:"accounts"`
}

// LoadConfig reads a TOML configuration file from path, applying its settings
// over DefaultConfig. If path == "", LoadConfig returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if keys := meta.Undecoded(); len(keys) != 0 {
		return Config{}, fmt.Errorf("load config: unknown keys %q", keys)
	}

	setString := func(key string, v string, dst *string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	setString("protocol", raw.Protocol, &cfg.Protocol)
	setString("listen", raw.Listen, &cfg.Listen)
	setString("addr", raw.Addr, &cfg.Addr)
	setString("metrics", raw.Metrics, &cfg.Metrics)
	setString("system_id", raw.SystemID, &cfg.SystemID)
	setString("password", raw.Password, &cfg.Password)
	setString("log_level", raw.LogLevel, &cfg.LogLevel)
	if meta.IsDefined("log_frames") {
		cfg.LogFrames = raw.LogFrames
	}

	durations := []struct {
		key []string
		v   string
		dst *time.Duration
	}{
		{[]string{"timeout"}, raw.Timeout, &cfg.Timeout},
		{[]string{"retry_interval"}, raw.RetryInterval, &cfg.Retry},
		{[]string{"bind_timeout"}, raw.BindTimeout, &cfg.BindWait},
		{[]string{"unbind_timeout"}, raw.UnbindTimeout, &cfg.Unbind},
		{[]string{"keepalive", "inactivity"}, raw.KeepAlive.Inactivity, &cfg.KeepAlive.InactivityInterval},
		{[]string{"keepalive", "enquire"}, raw.KeepAlive.Enquire, &cfg.KeepAlive.EnquireInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key...) {
			continue
		}
		v, err := parseInterval(d.v)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", strings.Join(d.key, "."), err)
		}
		*d.dst = v
	}
	cfg.KeepAlive.InactivityMisses = raw.KeepAlive.InactivityMisses
	cfg.KeepAlive.EnquireMisses = raw.KeepAlive.EnquireMisses

	if len(raw.Accounts) != 0 {
		cfg.Accounts = make(map[string]string)
		for i, acct := range raw.Accounts {
			id := strings.TrimSpace(acct.SystemID)
			if id == "" {
				return Config{}, fmt.Errorf("account %d: missing system_id", i+1)
			} else if _, dup := cfg.Accounts[id]; dup {
				return Config{}, fmt.Errorf("account %d: duplicate system_id %q", i+1, id)
			}
			cfg.Accounts[id] = acct.Password
		}
	}
	return cfg, nil
}

// parseInterval parses a duration. The word "off" denotes a disabled timer.
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "off" {
		return -1, nil
	}
	return time.ParseDuration(s)
}

// Validate reports an error if c is not usable.
func (c Config) Validate() error {
	if _, err := protocolByName(c.Protocol); err != nil {
		return err
	}
	if c.SystemID == "" {
		return errors.New("missing system ID")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", c.Timeout)
	}
	if c.Retry <= 0 {
		return fmt.Errorf("retry interval must be positive (got %v)", c.Retry)
	}
	if c.KeepAlive.InactivityMisses < 0 || c.KeepAlive.EnquireMisses < 0 {
		return errors.New("keep-alive miss counts must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// Options returns the session options for c.
func (c Config) Options() binder.Options {
	return binder.Options{
		KeepAlive:     c.KeepAlive,
		BindTimeout:   c.BindWait,
		UnbindTimeout: c.Unbind,
	}
}

func protocolByName(name string) (*binder.Protocol, error) {
	switch name {
	case "pinex":
		return pinex.Protocol, nil
	case "smpp":
		return smpp.Protocol, nil
	}
	return nil, fmt.Errorf("unknown protocol %q", name)
}

// authenticator returns a bind check for the accounts of c, or nil if c has
// no accounts. SMPP binds must also present the account password.
func (c Config) authenticator(p *binder.Protocol) func(binder.BindRequest, string) uint32 {
	if len(c.Accounts) == 0 {
		return nil
	}
	return func(req binder.BindRequest, ip string) uint32 {
		want, ok := c.Accounts[req.Identity()]
		switch br := req.(type) {
		case *smpp.BindRequest:
			if !ok {
				return smpp.StatusInvalidSystemID
			} else if br.Password != want {
				return smpp.StatusInvalidPassword
			}
		default:
			if !ok {
				return p.StatusBindFailed
			}
		}
		return p.StatusOK
	}
}

// newLogger returns a console logger at the given level. The BINDER_LOG_LEVEL
// environment variable, if set, takes precedence.
func newLogger(level string) (zerolog.Logger, error) {
	if env := os.Getenv("BINDER_LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level: %w", err)
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).Level(lvl).With().Timestamp().Str("app", "binder").Logger(), nil
}
