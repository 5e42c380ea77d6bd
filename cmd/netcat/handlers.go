// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"

	"github.com/absmach/netcat"
	"github.com/absmach/netcat/pkg/handler"
	"github.com/absmach/netcat/pkg/ratelimit"
)

// LoggingHandler logs every connection event.
type LoggingHandler struct {
	logger *slog.Logger
}

var _ handler.Handler = (*LoggingHandler)(nil)

// AuthConnect admits every connection.
func (h *LoggingHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	h.logger.Debug("AuthConnect",
		slog.String("session", hctx.SessionID),
		slog.String("remote", hctx.RemoteAddr.String()),
		slog.String("mode", hctx.Mode))
	return nil
}

// OnConnect is called after the connection was admitted.
func (h *LoggingHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	h.logger.Info("OnConnect",
		slog.String("session", hctx.SessionID),
		slog.String("remote", hctx.RemoteAddr.String()),
		slog.Bool("worker", hctx.Worker))
	return nil
}

// OnDisconnect is called when serving the connection ended.
func (h *LoggingHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	h.logger.Info("OnDisconnect",
		slog.String("session", hctx.SessionID),
		slog.String("remote", hctx.RemoteAddr.String()))
	return nil
}

// RateLimitedHandler refuses connections beyond the global or per-peer budget.
type RateLimitedHandler struct {
	handler        handler.Handler
	perPeerLimiter *ratelimit.Limiter
	globalLimiter  *ratelimit.TokenBucket
	logger         *slog.Logger
}

var _ handler.Handler = (*RateLimitedHandler)(nil)

// AuthConnect implements handler.Handler with rate limiting.
func (h *RateLimitedHandler) AuthConnect(ctx context.Context, hctx *handler.Context) error {
	if h.globalLimiter != nil && !h.globalLimiter.Allow() {
		h.logger.Warn("Global rate limit exceeded",
			slog.String("remote", hctx.RemoteAddr.String()))
		return ratelimit.ErrRateLimitExceeded
	}

	if h.perPeerLimiter != nil && !h.perPeerLimiter.Allow(hctx.RemoteAddr.Addr()) {
		h.logger.Warn("Per-peer rate limit exceeded",
			slog.String("remote", hctx.RemoteAddr.String()))
		return ratelimit.ErrRateLimitExceeded
	}

	return h.handler.AuthConnect(ctx, hctx)
}

// OnConnect implements handler.Handler.
func (h *RateLimitedHandler) OnConnect(ctx context.Context, hctx *handler.Context) error {
	return h.handler.OnConnect(ctx, hctx)
}

// OnDisconnect implements handler.Handler.
func (h *RateLimitedHandler) OnDisconnect(ctx context.Context, hctx *handler.Context) error {
	return h.handler.OnDisconnect(ctx, hctx)
}

// newHandler builds the handler chain from the configuration.
func newHandler(cfg netcat.Config, logger *slog.Logger) handler.Handler {
	var h handler.Handler = &LoggingHandler{logger: logger}
	if cfg.AcceptRate <= 0 && cfg.ClientRate <= 0 {
		return h
	}

	rl := &RateLimitedHandler{
		handler: h,
		logger:  logger,
	}
	if cfg.AcceptRate > 0 {
		rl.globalLimiter = ratelimit.NewTokenBucket(burst(cfg.AcceptBurst, cfg.AcceptRate), cfg.AcceptRate)
	}
	if cfg.ClientRate > 0 {
		rl.perPeerLimiter = ratelimit.NewLimiter(burst(cfg.ClientBurst, cfg.ClientRate), cfg.ClientRate, 0)
	}
	return rl
}

func burst(b, rate int64) int64 {
	if b > 0 {
		return b
	}
	return rate
}
