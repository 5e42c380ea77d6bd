// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package guard bounds the time spent establishing a connection.
//
// A Guard is a single deadline armed before resolution starts and disarmed as
// soon as a usable connection exists. Every blocking step of establishment
// (lookup, connect, accept) runs under the Guard's context, so the deadline is
// checked wherever the process would otherwise block.
package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	nerrors "github.com/absmach/netcat/pkg/errors"
)

// ErrSilent is returned when a convenience deadline fires. The process should
// exit successfully without a diagnostic.
var ErrSilent = errors.New("connect deadline reached")

// Guard is a one-shot connect deadline.
type Guard struct {
	timeout  time.Duration
	explicit bool

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	disarmed bool
}

// New creates a Guard. A timeout of zero or less never fires. explicit marks a
// deadline the operator asked for; when it fires the establishment fails with
// ErrConnectTimeout instead of ErrSilent.
func New(timeout time.Duration, explicit bool) *Guard {
	return &Guard{timeout: timeout, explicit: explicit}
}

// Arm starts the deadline and returns the context establishment must run
// under. Arming twice returns the first context.
func (g *Guard) Arm(parent context.Context) context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx != nil {
		return g.ctx
	}
	if g.timeout > 0 {
		g.ctx, g.cancel = context.WithTimeout(parent, g.timeout)
	} else {
		g.ctx, g.cancel = context.WithCancel(parent)
	}
	return g.ctx
}

// Context returns the armed context while the Guard is armed and parent
// otherwise.
func (g *Guard) Context(parent context.Context) context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ctx == nil || g.disarmed {
		return parent
	}
	return g.ctx
}

// Disarm stops the deadline. It is safe to call repeatedly.
func (g *Guard) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.disarmed = true
	if g.cancel != nil {
		g.cancel()
	}
}

// Armed reports whether the deadline can still fire.
func (g *Guard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx != nil && !g.disarmed
}

// Err translates an establishment error. If err was caused by this Guard's
// deadline, the result is ErrConnectTimeout or ErrSilent; otherwise err is
// returned unchanged.
func (g *Guard) Err(err error) error {
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	g.mu.Lock()
	fired := g.ctx != nil && g.timeout > 0 && errors.Is(g.ctx.Err(), context.DeadlineExceeded)
	g.mu.Unlock()

	if !fired {
		return err
	}
	if g.explicit {
		return nerrors.ConnectTimeout()
	}
	return ErrSilent
}
