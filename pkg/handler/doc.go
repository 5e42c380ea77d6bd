// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package handler provides the hooks the supervisor calls for each connection.
//
// # Data Flow
//
//	accept/connect → AuthConnect → OnConnect → relay or worker → OnDisconnect
//
// A rejected connection never reaches OnConnect. Handlers compose by wrapping:
// the netcat binary chains a rate limiting handler in front of a logging one.
//
// # Example
//
//	type allowLoopback struct{ handler.NoopHandler }
//
//	func (allowLoopback) AuthConnect(ctx context.Context, hctx *handler.Context) error {
//		if !hctx.RemoteAddr.Addr().IsLoopback() {
//			return errors.New("remote peers not allowed")
//		}
//		return nil
//	}
package handler
