// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package socket

import (
	"context"
	"errors"
	"net/netip"

	nerrors "github.com/absmach/netcat/pkg/errors"
	"github.com/absmach/netcat/pkg/fdpoll"
	"github.com/absmach/netcat/pkg/resolve"
	"golang.org/x/sys/unix"
)

// Listener owns a bound, listening socket.
type Listener struct {
	fd int
}

// Listen creates the listening socket. With a source address or port the
// candidates are tried with the listen-prepare probe; otherwise an unbound
// socket is used and the kernel assigns an ephemeral port. listen(2) is
// called exactly once, on the winning socket.
func (e *Establisher) Listen(ctx context.Context) (*Listener, error) {
	var fd int
	var err error

	if e.hasSource() {
		hints := resolve.Hints{
			Host:     e.config.SourceAddress,
			Port:     e.config.SourcePort,
			Family:   e.config.Family,
			SockType: unix.SOCK_STREAM,
			Flags:    resolve.Passive,
		}
		fd, err = resolve.Each(ctx, e.config.Resolver, "bind", hints, prepare)
		if err != nil {
			return nil, err
		}
	} else {
		family := e.config.Family
		if family == unix.AF_UNSPEC {
			family = unix.AF_INET
		}
		fd, err = unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
		if err != nil {
			return nil, nerrors.SocketOp("socket", err)
		}
	}

	if err := unix.Listen(fd, Backlog); err != nil {
		unix.Close(fd)
		return nil, nerrors.SocketOp("listen", err)
	}
	return &Listener{fd: fd}, nil
}

// NewListener adopts an already listening socket, such as one inherited from
// a parent process. The descriptor is marked close-on-exec so workers never
// inherit it.
func NewListener(fd int) (*Listener, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, nerrors.SocketOp("listen", err)
	}
	unix.CloseOnExec(fd)
	return &Listener{fd: fd}, nil
}

// FD returns the listening descriptor.
func (l *Listener) FD() int {
	return l.fd
}

// Port returns the locally bound port.
func (l *Listener) Port() (int, error) {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return 0, nerrors.SocketOp("getsockname", err)
	}
	return int(resolve.AddrPort(sa).Port()), nil
}

// Accept waits for a connection and returns its blocking, close-on-exec
// descriptor together with the peer address. The wait ends early when ctx is
// done. Aborted handshakes and interrupted waits are retried.
func (l *Listener) Accept(ctx context.Context) (int, netip.AddrPort, error) {
	p, err := fdpoll.New(ctx)
	if err != nil {
		return -1, netip.AddrPort{}, nerrors.SocketOp("poll", err)
	}
	defer p.Close()

	for {
		if _, err := p.WaitFD(l.fd, unix.POLLIN, -1); err != nil {
			return -1, netip.AddrPort{}, err
		}
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			return fd, resolve.AddrPort(sa), nil
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
			continue
		default:
			return -1, netip.AddrPort{}, nerrors.SocketOp("accept", err)
		}
	}
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}
	err := unix.Close(l.fd)
	l.fd = -1
	return err
}
