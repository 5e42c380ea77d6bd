// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main is netcat: forward stdin/stdout to a file or network connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/netcat"
	"github.com/absmach/netcat/pkg/guard"
	"github.com/absmach/netcat/pkg/health"
	"github.com/absmach/netcat/pkg/metrics"
	"github.com/absmach/netcat/pkg/server/tcp"
	"github.com/absmach/netcat/pkg/socket"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	// .env file is optional
	_ = godotenv.Load()

	cfg, err := netcat.NewConfig(env.Options{Prefix: netcat.EnvPrefix})
	if err != nil {
		fail(fmt.Errorf("failed to parse config: %w", err))
	}
	if err := parseFlags(&cfg, os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fail(err)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	os.Exit(exitCode(run(cfg, logger)))
}

func run(cfg netcat.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	m := metrics.New("netcat")

	srvCfg := tcp.Config{
		Mode:          mode(cfg),
		File:          cfg.File,
		Family:        cfg.AddressFamily(),
		SourceAddress: cfg.SourceAddress,
		SourcePort:    cfg.LocalPort,
		Command:       cfg.Command(),
		IdleTimeout:   cfg.Idle,
		LingerTimeout: cfg.QuitDelay,
		Metrics:       m,
		Logger:        logger,
	}
	if !cfg.Listening() && cfg.File == "" {
		srvCfg.Host, srvCfg.Port = cfg.Args[0], cfg.Args[1]
	}

	if cfg.Wait > 0 {
		srvCfg.Guard = guard.New(cfg.Wait, true)
	} else {
		srvCfg.Guard = guard.New(cfg.DefaultWait, false)
	}

	if cfg.Listening() {
		if cfg.ListenFD >= 0 {
			// Workers must not mistake themselves for a detached listener.
			os.Unsetenv(netcat.EnvPrefix + "LISTEN_FD")
			l, err := socket.NewListener(cfg.ListenFD)
			if err != nil {
				return err
			}
			srvCfg.Listener = l
		} else if cfg.Background {
			srvCfg.Detacher = &tcp.Reexec{
				Args: os.Args[1:],
				Env:  netcat.EnvPrefix + "LISTEN_FD",
			}
		}
	}

	server := tcp.New(srvCfg, newHandler(cfg, logger))

	if cfg.MetricsAddr != "" {
		checker := health.NewChecker(time.Second)
		checker.Register("connection", server.Ready)
		g.Go(func() error {
			return serveMetrics(ctx, cfg.MetricsAddr, m, checker, logger)
		})
	}

	g.Go(func() error {
		defer cancel()
		return server.Run(ctx)
	})

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	return g.Wait()
}

func mode(cfg netcat.Config) tcp.Mode {
	switch {
	case cfg.File != "":
		return tcp.ModeFile
	case cfg.ListenMany:
		return tcp.ModeListenMany
	case cfg.Listen:
		return tcp.ModeListenOnce
	default:
		return tcp.ModeDial
	}
}

// exitCode maps the result of run to the process exit status.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	switch {
	case err == nil,
		errors.Is(err, guard.ErrSilent),
		errors.Is(err, context.Canceled):
		return 0
	case errors.As(err, &exitErr):
		// A single-connection worker stands in for netcat itself.
		return exitErr.ExitCode()
	default:
		fmt.Fprintf(os.Stderr, "netcat: %v\n", err)
		return 1
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "netcat: %v\n", err)
	os.Exit(1)
}

// setupLogger creates a structured logger on stderr; stdout carries data.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// serveMetrics serves Prometheus metrics and health probes until ctx is done.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, checker *health.Checker, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", checker.ReadinessHandler())
	mux.HandleFunc("/ready", checker.ReadinessHandler())
	mux.HandleFunc("/live", health.LivenessHandler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting metrics server", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
