// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	nerrors "github.com/absmach/netcat/pkg/errors"
	"github.com/absmach/netcat/pkg/guard"
	"github.com/absmach/netcat/pkg/handler"
	"github.com/absmach/netcat/pkg/metrics"
	"github.com/absmach/netcat/pkg/ratelimit"
	"github.com/absmach/netcat/pkg/relay"
	"github.com/absmach/netcat/pkg/resolve"
	"github.com/absmach/netcat/pkg/socket"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ErrNotReady is reported by Ready before a connection or listening socket exists.
var ErrNotReady = errors.New("no connection established")

// Mode selects how the server obtains its connections.
type Mode int

const (
	// ModeDial connects to Host:Port once.
	ModeDial Mode = iota

	// ModeFile relays an opened file instead of a socket.
	ModeFile

	// ModeListenOnce accepts and serves a single connection.
	ModeListenOnce

	// ModeListenMany accepts connections until the context is cancelled.
	ModeListenMany
)

// String returns a string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeDial:
		return "dial"
	case ModeFile:
		return "file"
	case ModeListenOnce:
		return "listen"
	case ModeListenMany:
		return "listen-many"
	default:
		return "unknown"
	}
}

// Config holds the server configuration.
type Config struct {
	Mode Mode

	// Host and Port are the dial target.
	Host string
	Port string

	// File is opened read/write in ModeFile.
	File string

	// Family restricts resolution to unix.AF_INET or unix.AF_INET6.
	Family int

	// SourceAddress and SourcePort select the local address. With no
	// SourcePort a listening server reports its ephemeral port.
	SourceAddress string
	SourcePort    string

	// Command is run once per accepted connection with the connection on
	// its standard streams. Empty means relay to Local instead.
	Command []string

	// IdleTimeout and LingerTimeout configure every relay. Zero disables.
	IdleTimeout   time.Duration
	LingerTimeout time.Duration

	// Guard bounds establishment. Defaults to a Guard that never fires.
	Guard *guard.Guard

	// Local is the party relayed against the connection. Defaults to
	// standard input and standard output.
	Local *relay.Endpoint

	// PortOutput receives the ephemeral port. Defaults to os.Stdout.
	PortOutput io.Writer

	// Listener is an already listening socket to serve instead of
	// creating one.
	Listener *socket.Listener

	// Detacher moves the server to the background after the port was
	// reported. Nil never detaches.
	Detacher Detacher

	// Spawner starts workers. Defaults to ExecSpawner running Command.
	Spawner Spawner

	// Resolver performs lookups. Defaults to net.DefaultResolver.
	Resolver resolve.Resolver

	// Metrics receives instrumentation. Defaults to an unexported registry.
	Metrics *metrics.Metrics

	// Logger for server events
	Logger *slog.Logger
}

// Server establishes connections and serves each with a relay or a worker.
type Server struct {
	config  Config
	handler handler.Handler
	est     *socket.Establisher
	ready   atomic.Bool
	workers atomic.Int64
}

// New creates a new server with the given configuration and handler.
func New(cfg Config, h handler.Handler) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Guard == nil {
		cfg.Guard = guard.New(0, false)
	}
	if cfg.Local == nil {
		cfg.Local = &relay.Endpoint{R: 0, W: 1}
	}
	if cfg.PortOutput == nil {
		cfg.PortOutput = os.Stdout
	}
	if cfg.Spawner == nil {
		cfg.Spawner = &ExecSpawner{Command: cfg.Command}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New("")
	}
	if h == nil {
		h = &handler.NoopHandler{}
	}

	return &Server{
		config:  cfg,
		handler: h,
		est: socket.New(socket.Config{
			Family:        cfg.Family,
			SourceAddress: cfg.SourceAddress,
			SourcePort:    cfg.SourcePort,
			Resolver:      cfg.Resolver,
			Logger:        cfg.Logger,
		}),
	}
}

// Run serves according to the configured mode and blocks until done.
func (s *Server) Run(ctx context.Context) error {
	switch s.config.Mode {
	case ModeDial, ModeFile:
		return s.Dial(ctx)
	case ModeListenOnce, ModeListenMany:
		return s.Listen(ctx)
	default:
		return fmt.Errorf("unknown mode %d", s.config.Mode)
	}
}

// Ready reports whether a connection or listening socket exists.
func (s *Server) Ready(ctx context.Context) error {
	if !s.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// Workers returns the number of workers spawned so far.
func (s *Server) Workers() int {
	return int(s.workers.Load())
}

// Dial connects to the target (or opens the file) and relays it against the
// local endpoint.
func (s *Server) Dial(ctx context.Context) error {
	start := time.Now()
	ectx := s.config.Guard.Arm(ctx)

	var fd int
	var err error
	if s.config.Mode == ModeFile {
		fd, err = unix.Open(s.config.File, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err != nil {
			return nerrors.Wrap(err, "open "+s.config.File)
		}
	} else {
		fd, err = s.est.Dial(ectx, s.config.Host, s.config.Port)
		if err != nil {
			return s.config.Guard.Err(err)
		}
	}
	// We have a connection. Disarm timeout.
	s.config.Guard.Disarm()
	defer unix.Close(fd)

	s.ready.Store(true)
	s.config.Metrics.EstablishDuration.WithLabelValues(s.config.Mode.String()).Observe(time.Since(start).Seconds())

	var peer netip.AddrPort
	if sa, err := unix.Getpeername(fd); err == nil {
		peer = resolve.AddrPort(sa)
	}
	return s.serve(ctx, fd, peer)
}

// Listen creates (or adopts) the listening socket and serves accepted
// connections: one in ModeListenOnce, until ctx is cancelled in ModeListenMany.
func (s *Server) Listen(ctx context.Context) error {
	start := time.Now()
	ectx := s.config.Guard.Arm(ctx)

	l := s.config.Listener
	reported := false
	if l == nil {
		var err error
		if l, err = s.est.Listen(ectx); err != nil {
			return s.config.Guard.Err(err)
		}
		if s.config.SourcePort == "" {
			if err := s.reportPort(l); err != nil {
				l.Close()
				return err
			}
			reported = true
		}
	}
	defer l.Close()

	s.ready.Store(true)

	// Return immediately if no port was given and there is a command, so a
	// wrapper script can use the port number.
	if reported && len(s.config.Command) > 0 && s.config.Detacher != nil {
		detached, err := s.config.Detacher.Detach(l.FD())
		if err != nil {
			return err
		}
		if detached {
			s.config.Logger.Info("continuing in background")
			return nil
		}
	}

	first := true
	for {
		fd, peer, err := l.Accept(s.config.Guard.Context(ctx))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return s.config.Guard.Err(err)
		}
		// We have a connection. Disarm timeout.
		s.config.Guard.Disarm()
		if first {
			s.config.Metrics.EstablishDuration.WithLabelValues(s.config.Mode.String()).Observe(time.Since(start).Seconds())
			first = false
		}

		if len(s.config.Command) > 0 {
			err = s.spawn(ctx, fd, peer)
		} else {
			err = s.serve(ctx, fd, peer)
			unix.Close(fd)
		}

		if s.config.Mode == ModeListenOnce {
			return err
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.config.Logger.Warn("connection failed",
				slog.String("remote", peer.String()),
				slog.String("error", err.Error()))
		}
	}
}

func (s *Server) reportPort(l *socket.Listener) error {
	port, err := l.Port()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.config.PortOutput, "%d\n", port); err != nil {
		return err
	}
	if f, ok := s.config.PortOutput.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	s.config.Logger.Info("listening", slog.Int("port", port))
	return nil
}

// admit runs the handler's admission and connect hooks.
func (s *Server) admit(ctx context.Context, hctx *handler.Context) error {
	if err := s.handler.AuthConnect(ctx, hctx); err != nil {
		reason := "handler"
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
			reason = "rate_limit"
		}
		s.config.Metrics.RejectedConnections.WithLabelValues(reason).Inc()
		return fmt.Errorf("connection from %s rejected: %w", hctx.RemoteAddr, err)
	}
	if err := s.handler.OnConnect(ctx, hctx); err != nil {
		s.config.Logger.Error("connect handler error",
			slog.String("session", hctx.SessionID),
			slog.String("error", err.Error()))
	}
	return nil
}

func (s *Server) disconnect(hctx *handler.Context) {
	if err := s.handler.OnDisconnect(context.Background(), hctx); err != nil {
		s.config.Logger.Error("disconnect handler error",
			slog.String("session", hctx.SessionID),
			slog.String("error", err.Error()))
	}
}

func (s *Server) newContext(peer netip.AddrPort, worker bool) *handler.Context {
	return &handler.Context{
		SessionID:  uuid.New().String(),
		RemoteAddr: peer,
		Mode:       s.config.Mode.String(),
		Worker:     worker,
	}
}

// serve relays fd against the local endpoint. The caller owns fd.
func (s *Server) serve(ctx context.Context, fd int, peer netip.AddrPort) error {
	hctx := s.newContext(peer, false)
	if err := s.admit(ctx, hctx); err != nil {
		return err
	}
	defer s.disconnect(hctx)

	s.config.Logger.Debug("connection established",
		slog.String("session", hctx.SessionID),
		slog.String("remote", peer.String()))

	return s.config.Metrics.ObserveConnection(hctx.Mode, func() error {
		res, err := relay.Relay(ctx, relay.Endpoint{R: fd, W: fd}, *s.config.Local, relay.Options{
			Idle:   s.config.IdleTimeout,
			Linger: s.config.LingerTimeout,
			Logger: s.config.Logger,
		})
		s.config.Metrics.ObserveRelay(res.Outcome.String(), res.Forward, res.Backward)
		s.config.Logger.Debug("connection closed",
			slog.String("session", hctx.SessionID),
			slog.String("outcome", res.Outcome.String()),
			slog.Int64("received", res.Forward),
			slog.Int64("sent", res.Backward))
		return err
	})
}

// spawn hands fd to a worker. It takes ownership of fd: the server's copy is
// closed once the worker holds its own.
func (s *Server) spawn(ctx context.Context, fd int, peer netip.AddrPort) error {
	conn := os.NewFile(uintptr(fd), "conn")
	defer conn.Close()

	hctx := s.newContext(peer, true)
	if err := s.admit(ctx, hctx); err != nil {
		return err
	}
	defer s.disconnect(hctx)

	many := s.config.Mode == ModeListenMany
	w, err := s.config.Spawner.Spawn(conn, many)
	if err != nil {
		s.config.Metrics.WorkerErrors.Inc()
		return nerrors.Wrap(err, "spawn worker")
	}
	s.workers.Add(1)
	s.config.Metrics.WorkersSpawned.Inc()
	conn.Close()

	s.config.Logger.Debug("worker started",
		slog.String("session", hctx.SessionID),
		slog.String("remote", peer.String()))

	if !many {
		return w.Wait()
	}

	go func() {
		if err := w.Wait(); err != nil {
			s.config.Metrics.WorkerErrors.Inc()
			s.config.Logger.Debug("worker exited",
				slog.String("session", hctx.SessionID),
				slog.String("error", err.Error()))
		}
	}()
	return nil
}
