// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	nerrors "github.com/absmach/netcat/pkg/errors"
	"github.com/absmach/netcat/pkg/fdpoll"
	"golang.org/x/sys/unix"
)

// ChunkSize is the largest single read forwarded at once.
const ChunkSize = 4096

// Outcome is how a relay ended.
type Outcome int

const (
	// BothClosed means the first party reached end of stream.
	BothClosed Outcome = iota

	// LingerTimedOut means the second party closed and the first stayed
	// silent for the linger timeout.
	LingerTimedOut

	// IdleTimedOut means neither party was readable for the idle timeout.
	IdleTimedOut
)

// String returns a string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case BothClosed:
		return "both_closed"
	case LingerTimedOut:
		return "linger_timeout"
	case IdleTimedOut:
		return "idle_timeout"
	default:
		return "unknown"
	}
}

// Endpoint is one party of a relay: the descriptor read from and the
// descriptor written to. Both may be the same socket.
type Endpoint struct {
	R int
	W int
}

// Options configures a relay. Zero or negative timeouts disable them.
type Options struct {
	// Idle bounds the wait for activity while both parties are open.
	Idle time.Duration

	// Linger bounds the wait for the first party after the second closed.
	Linger time.Duration

	// Logger for relay events
	Logger *slog.Logger
}

// Result describes a finished relay.
type Result struct {
	Outcome Outcome
	// Forward counts bytes copied from the first party to the second.
	Forward int64
	// Backward counts bytes copied from the second party to the first.
	Backward int64
}

// Relay copies a.R to b.W and b.R to a.W until the relay ends.
//
// When b reaches end of stream, a.W is shut down for writing and the relay
// keeps draining a alone under the linger timeout. When a reaches end of
// stream the relay ends with BothClosed. A failed write ends the relay with
// ErrRelayWrite. Cancelling ctx ends it with the context error.
func Relay(ctx context.Context, a, b Endpoint, opts Options) (Result, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var res Result

	p, err := fdpoll.New(ctx)
	if err != nil {
		return res, err
	}
	defer p.Close()

	fds := []unix.PollFd{
		{Fd: int32(a.R), Events: unix.POLLIN},
		{Fd: int32(b.R), Events: unix.POLLIN},
	}
	dst := [2]int{b.W, a.W}
	count := [2]*int64{&res.Forward, &res.Backward}
	active := 2
	timeout := limit(opts.Idle)
	buf := make([]byte, ChunkSize)

	for {
		n, err := p.Wait(fds[:active], timeout)
		if err != nil {
			return res, err
		}
		if n == 0 {
			res.Outcome = IdleTimedOut
			if active == 1 {
				res.Outcome = LingerTimedOut
			}
			return res, nil
		}

		for i := 0; i < active; i++ {
			ev := fds[i].Revents
			if ev == 0 {
				continue
			}

			eof := false
			if ev&unix.POLLIN != 0 {
				m, err := unix.Read(int(fds[i].Fd), buf)
				switch {
				case errors.Is(err, unix.EINTR), errors.Is(err, unix.EAGAIN):
					continue
				case m < 1:
					eof = true
				default:
					if err := write(p, dst[i], buf[:m]); err != nil {
						return res, nerrors.RelayWrite(err)
					}
					*count[i] += int64(m)
				}
			} else if ev&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
				eof = true
			}
			if !eof {
				continue
			}

			if i == 0 {
				res.Outcome = BothClosed
				return res, nil
			}
			// Half close: "echo GET / | netcat host 80" needs the request
			// side shut while the response is still read.
			if err := unix.Shutdown(a.W, unix.SHUT_WR); err != nil {
				opts.Logger.Debug("half close failed", slog.String("error", err.Error()))
			}
			active = 1
			timeout = limit(opts.Linger)
		}
	}
}

// Pollinate is Relay in the four-descriptor form: in1 is copied to out1 and
// in2 to out2. in1 is the first party, so its end of stream ends the relay,
// and out2 is shut down for writing when in2 ends.
func Pollinate(ctx context.Context, in1, in2, out1, out2 int, idle, linger time.Duration) (Outcome, error) {
	res, err := Relay(ctx, Endpoint{R: in1, W: out2}, Endpoint{R: in2, W: out1}, Options{
		Idle:   idle,
		Linger: linger,
	})
	return res.Outcome, err
}

// write writes all of b to fd, waiting for writability if fd is non-blocking.
func write(p *fdpoll.Poller, fd int, b []byte) error {
	for len(b) > 0 {
		n, err := unix.Write(fd, b)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if _, err := p.WaitFD(fd, unix.POLLOUT, -1); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		case n == 0:
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}

func limit(d time.Duration) time.Duration {
	if d <= 0 {
		return -1
	}
	return d
}
