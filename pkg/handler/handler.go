// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"net/netip"
)

// Context contains metadata about one served connection.
// It is passed to Handler methods.
type Context struct {
	// SessionID is a unique identifier for this connection
	SessionID string

	// RemoteAddr is the peer's network address
	RemoteAddr netip.AddrPort

	// Mode is the supervisor mode serving the connection (dial, file,
	// listen, listen-many)
	Mode string

	// Worker is true when the connection is handed to a spawned command
	Worker bool
}

// Handler defines admission and notification callbacks for served connections.
//
// AuthConnect is called right after a connection exists and before any byte is
// relayed or a worker is spawned. Returning an error rejects the connection:
// it is closed and, when listening for many connections, the supervisor moves
// on to the next accept.
//
// OnConnect and OnDisconnect are notifications. Their errors are logged and
// never change how the connection is handled.
type Handler interface {
	// AuthConnect admits or rejects a connection.
	AuthConnect(ctx context.Context, hctx *Context) error

	// OnConnect is called once the connection is admitted.
	OnConnect(ctx context.Context, hctx *Context) error

	// OnDisconnect is called after the relay ended or the worker was handed
	// the connection.
	OnDisconnect(ctx context.Context, hctx *Context) error
}

// NoopHandler is a Handler implementation that admits every connection.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) AuthConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnConnect(ctx context.Context, hctx *Context) error {
	return nil
}

func (h *NoopHandler) OnDisconnect(ctx context.Context, hctx *Context) error {
	return nil
}
