// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package netcat holds the configuration shared by the netcat binary.
package netcat

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/sys/unix"
)

// EnvPrefix prefixes every configuration variable.
const EnvPrefix = "NETCAT_"

var (
	errArgCount  = errors.New("bad argument count")
	errExclusive = errors.New("conflicting options")
)

// Config is the complete runtime configuration. Environment variables provide
// the defaults; command line flags override them.
//
// Every timeout is a duration where zero disables it.
type Config struct {
	// Family is "4", "6" or empty for either.
	Family        string        `env:"FAMILY"`
	File          string        `env:"FILE"`
	SourceAddress string        `env:"SOURCE_ADDRESS"`
	LocalPort     string        `env:"LOCAL_PORT"`
	Wait          time.Duration `env:"WAIT"`
	DefaultWait   time.Duration `env:"DEFAULT_WAIT"`
	Idle          time.Duration `env:"IDLE_TIMEOUT"`
	QuitDelay     time.Duration `env:"QUIT_DELAY"`
	Listen        bool          `env:"LISTEN"`
	ListenMany    bool          `env:"LISTEN_MANY"`
	Background    bool          `env:"BACKGROUND"     envDefault:"true"`
	ListenFD      int           `env:"LISTEN_FD"      envDefault:"-1"`

	// Observability
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"warn"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"text"`
	MetricsAddr string `env:"METRICS_ADDR"`

	// Connection throttling, zero disables
	AcceptRate  int64 `env:"ACCEPT_RATE"`
	AcceptBurst int64 `env:"ACCEPT_BURST"`
	ClientRate  int64 `env:"CLIENT_RATE"`
	ClientBurst int64 `env:"CLIENT_BURST"`

	// Args are the positional arguments: HOST PORT when dialing, the
	// worker command when listening.
	Args []string `env:"-"`
}

// NewConfig parses the environment into a Config.
func NewConfig(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Listening reports whether connections are accepted rather than dialed.
func (c Config) Listening() bool {
	return c.File == "" && (c.Listen || c.ListenMany)
}

// Command returns the worker command, if any.
func (c Config) Command() []string {
	if !c.Listening() {
		return nil
	}
	return c.Args
}

// AddressFamily maps Family to a socket address family.
func (c Config) AddressFamily() int {
	switch c.Family {
	case "4":
		return unix.AF_INET
	case "6":
		return unix.AF_INET6
	default:
		return unix.AF_UNSPEC
	}
}

// Validate checks option combinations and the positional argument count.
func (c Config) Validate() error {
	switch c.Family {
	case "", "4", "6":
	default:
		return fmt.Errorf("%w: family must be 4 or 6, got %q", errExclusive, c.Family)
	}
	if c.Listen && c.ListenMany {
		return fmt.Errorf("%w: -l and -L", errExclusive)
	}
	if c.ListenMany && c.Wait > 0 {
		return fmt.Errorf("%w: -L and -w", errExclusive)
	}
	if c.Wait < 0 || c.Idle < 0 || c.QuitDelay < 0 || c.DefaultWait < 0 {
		return errors.New("timeouts must not be negative")
	}

	switch {
	case c.File != "":
		if len(c.Args) != 0 {
			return errArgCount
		}
	case !c.Listening():
		if len(c.Args) != 2 {
			return errArgCount
		}
	}
	return nil
}
