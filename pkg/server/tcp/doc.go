// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the connection supervisor for netcat.
//
// # Overview
//
// The Server obtains connections in one of four modes and serves each one
// either by relaying it against a local endpoint (normally standard input and
// output) or by handing it to a worker process.
//
//	┌─────────┐         ┌─────────┐         ┌──────────────┐
//	│  Peer   │ ←─TCP─→ │ Server  │ ←─fd──→ │ stdin/stdout │
//	└─────────┘         └─────────┘         └──────────────┘
//	                         ↓ (with a command)
//	                    ┌─────────┐
//	                    │ Worker  │ fd 0, 1 (and 2) = connection
//	                    └─────────┘
//
// # Modes
//
//   - ModeDial: resolve Host:Port, connect to the first candidate that
//     accepts, relay, exit.
//   - ModeFile: open File read/write and relay it.
//   - ModeListenOnce: listen, accept one connection, serve it, exit.
//   - ModeListenMany: listen and serve connections until cancelled.
//
// # Connection Flow
//
//  1. Guard armed
//  2. Connect, or listen (reporting the ephemeral port when SourcePort is
//     empty) and accept
//  3. Guard disarmed
//  4. handler.AuthConnect, handler.OnConnect
//  5. Relay, or spawn a worker and close the server's copy of the descriptor
//  6. handler.OnDisconnect
//  7. ModeListenMany goes back to 2 (accept)
//
// Connections without a command are served one at a time. With a command the
// accept loop continues as soon as the worker started; workers are reaped in
// the background and never delay the next accept.
//
// # Error Handling
//
//   - Establishment errors end Run.
//   - Accept errors end Run.
//   - Relay and worker errors end Run in ModeListenOnce, and are logged in
//     ModeListenMany, where the next connection is accepted.
//
// # Example
//
//	srv := tcp.New(tcp.Config{
//		Mode:    tcp.ModeListenMany,
//		Command: []string{"/bin/cat"},
//		Logger:  logger,
//	}, &handler.NoopHandler{})
//	if err := srv.Run(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
