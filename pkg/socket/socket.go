// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package socket establishes stream connections from resolved candidates.
//
// Three probes drive resolve.Each: dial (socket, optional source bind,
// connect), bind (bind an open socket) and listen-prepare (socket,
// SO_REUSEADDR, bind). A probe that fails closes every descriptor it opened
// before the next candidate is tried.
package socket

import (
	"context"
	"errors"
	"log/slog"

	nerrors "github.com/absmach/netcat/pkg/errors"
	"github.com/absmach/netcat/pkg/fdpoll"
	"github.com/absmach/netcat/pkg/resolve"
	"golang.org/x/sys/unix"
)

// Backlog is the listen(2) backlog.
const Backlog = 5

// Config holds the establisher configuration.
type Config struct {
	// Family restricts candidates to unix.AF_INET or unix.AF_INET6.
	// unix.AF_UNSPEC accepts both.
	Family int

	// SourceAddress and SourcePort, when either is set, are bound before
	// connecting and select the listening address.
	SourceAddress string
	SourcePort    string

	// Resolver performs lookups. Defaults to net.DefaultResolver.
	Resolver resolve.Resolver

	// Logger for establishment events
	Logger *slog.Logger
}

// Establisher opens outbound and listening sockets.
type Establisher struct {
	config Config
}

// New creates an Establisher.
func New(cfg Config) *Establisher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Establisher{config: cfg}
}

func (e *Establisher) hasSource() bool {
	return e.config.SourceAddress != "" || e.config.SourcePort != ""
}

// Dial connects to host:port and returns a blocking, close-on-exec socket.
// Cancelling ctx or reaching its deadline aborts the attempt.
func (e *Establisher) Dial(ctx context.Context, host, port string) (int, error) {
	p, err := fdpoll.New(ctx)
	if err != nil {
		return -1, nerrors.SocketOp("poll", err)
	}
	defer p.Close()

	hints := resolve.Hints{
		Host:     host,
		Port:     port,
		Family:   e.config.Family,
		SockType: unix.SOCK_STREAM,
	}
	return resolve.Each(ctx, e.config.Resolver, "connect", hints, func(c resolve.Candidate) (int, error) {
		return e.dial(ctx, p, c)
	})
}

func (e *Establisher) dial(ctx context.Context, p *fdpoll.Poller, c resolve.Candidate) (int, error) {
	fd, err := open(c)
	if err != nil {
		return -1, err
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	if e.hasSource() {
		hints := resolve.Hints{
			Host:     e.config.SourceAddress,
			Port:     e.config.SourcePort,
			Family:   c.Family,
			SockType: c.SockType,
			Protocol: c.Protocol,
			Flags:    c.Flags | resolve.Passive,
		}
		if _, err := resolve.Each(ctx, e.config.Resolver, "bind", hints, Bind(fd)); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}

	if err := connect(p, fd, c); err != nil {
		unix.Close(fd)
		e.config.Logger.Debug("connect attempt failed",
			slog.String("address", c.Addr.String()),
			slog.String("error", err.Error()))
		return -1, err
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return -1, err
	}

	e.config.Logger.Debug("connected", slog.String("address", c.Addr.String()))
	return fd, nil
}

// connect performs a non-blocking connect and waits for it to complete so the
// wait can be cut short by the poller's context.
func connect(p *fdpoll.Poller, fd int, c resolve.Candidate) error {
	err := unix.Connect(fd, c.Sockaddr())
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINPROGRESS) && !errors.Is(err, unix.EINTR) {
		return err
	}

	if _, err := p.WaitFD(fd, unix.POLLOUT, -1); err != nil {
		return err
	}
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

// Bind returns a probe that binds the already open socket fd to each
// candidate in turn. It never closes fd.
func Bind(fd int) resolve.Probe {
	return func(c resolve.Candidate) (int, error) {
		if err := unix.Bind(fd, c.Sockaddr()); err != nil {
			return -1, err
		}
		return fd, nil
	}
}

// prepare is the listen-prepare probe: a bound, reusable, close-on-exec
// socket on which listen(2) has not been called yet.
func prepare(c resolve.Candidate) (int, error) {
	fd, err := open(c)
	if err != nil {
		return -1, err
	}
	unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	if err := unix.Bind(fd, c.Sockaddr()); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// open creates a non-blocking, close-on-exec socket matching c.
func open(c resolve.Candidate) (int, error) {
	return unix.Socket(c.Family, c.SockType|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, c.Protocol)
}
