// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package fdpoll waits for readiness on raw file descriptors.
//
// A Poller wraps poll(2) with two additions: a self-pipe that becomes
// readable when the Poller's context is done, so a blocked wait can be
// cancelled, and the retry policy for transient failures. EINTR, EAGAIN and
// ENOMEM never surface to the caller; the wait is retried with the remaining
// timeout decremented by one millisecond.
package fdpoll

import (
	"context"
	"errors"
	"math"
	"time"

	"golang.org/x/sys/unix"
)

// Poller multiplexes readiness waits and aborts them when its context is done.
type Poller struct {
	ctx  context.Context
	wake [2]int
	stop func() bool
	set  []unix.PollFd
}

// New creates a Poller bound to ctx. The caller must Close it.
func New(ctx context.Context) (*Poller, error) {
	p := &Poller{ctx: ctx}
	if err := unix.Pipe2(p.wake[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	w := p.wake[1]
	p.stop = context.AfterFunc(ctx, func() {
		unix.Write(w, []byte{0})
	})
	return p, nil
}

// Close releases the self-pipe.
func (p *Poller) Close() error {
	p.stop()
	err := unix.Close(p.wake[0])
	if cerr := unix.Close(p.wake[1]); err == nil {
		err = cerr
	}
	return err
}

// Wait blocks until at least one of fds is ready, the timeout elapses or the
// Poller's context is done. A negative timeout waits indefinitely. Revents
// are written back into fds. It returns the number of ready descriptors, zero
// on timeout, or the context error if the context ended first. A context
// deadline shortens the wait and surfaces as context.DeadlineExceeded.
func (p *Poller) Wait(fds []unix.PollFd, timeout time.Duration) (int, error) {
	p.set = append(p.set[:0], fds...)
	p.set = append(p.set, unix.PollFd{Fd: int32(p.wake[0]), Events: unix.POLLIN})

	ms := Millis(timeout)
	for {
		if err := p.ctx.Err(); err != nil {
			return 0, err
		}
		wait, capped := p.bound(ms)
		for i := range p.set {
			p.set[i].Revents = 0
		}

		n, err := unix.Poll(p.set, wait)
		if err != nil {
			if !transient(err) {
				return 0, err
			}
			if ms > 0 {
				ms--
			}
			continue
		}
		if p.set[len(fds)].Revents != 0 {
			n--
		}
		if err := p.ctx.Err(); err != nil {
			return 0, err
		}
		if n == 0 && capped {
			continue
		}
		for i := range fds {
			fds[i].Revents = p.set[i].Revents
		}
		return n, nil
	}
}

// bound shortens ms to the context deadline. capped reports whether the
// deadline, not ms, is the limiting factor.
func (p *Poller) bound(ms int) (int, bool) {
	deadline, ok := p.ctx.Deadline()
	if !ok {
		return ms, false
	}
	left := Millis(time.Until(deadline))
	if left < 0 {
		left = 0
	}
	if ms < 0 || left < ms {
		return left, true
	}
	return ms, false
}

// Millis converts a timeout to poll(2) milliseconds. Negative durations mean
// no timeout and map to -1.
func Millis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if d%time.Millisecond != 0 {
		ms++
	}
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

func transient(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.ENOMEM)
}

// WaitFD waits for events on a single descriptor and returns its revents.
// Zero revents with a nil error means the timeout elapsed.
func (p *Poller) WaitFD(fd int, events int16, timeout time.Duration) (int16, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	if _, err := p.Wait(fds, timeout); err != nil {
		return 0, err
	}
	return fds[0].Revents, nil
}
