// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package resolve turns a host and port into an ordered list of address
// candidates and tries a probe against each until one succeeds.
//
// The same candidate iteration serves dialing, source binding and listening;
// only the probe differs.
package resolve

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"strconv"

	nerrors "github.com/absmach/netcat/pkg/errors"
	"golang.org/x/sys/unix"
)

// Resolution flags.
const (
	// Passive selects wildcard addresses when Host is empty, for binding.
	// Without it an empty Host resolves to loopback.
	Passive = 1 << iota
)

var errNotFound = errors.New("not found")

// Resolver is the subset of *net.Resolver used for lookups.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
	LookupPort(ctx context.Context, network, service string) (int, error)
}

// Hints select what Each resolves.
type Hints struct {
	Host     string
	Port     string
	Family   int // unix.AF_INET, unix.AF_INET6 or unix.AF_UNSPEC
	SockType int // unix.SOCK_STREAM unless set
	Protocol int
	Flags    int
}

// Candidate is one resolved address.
type Candidate struct {
	Family   int
	SockType int
	Protocol int
	Flags    int
	Addr     netip.AddrPort
}

// Sockaddr returns the candidate address in the form the socket calls take.
func (c Candidate) Sockaddr() unix.Sockaddr {
	return Sockaddr(c.Addr)
}

// Probe tries a single candidate. A nil error stops the iteration and its
// descriptor is returned from Each; any error moves on to the next candidate.
// A probe must release every resource it acquired before returning an error.
type Probe func(c Candidate) (int, error)

// Each resolves h and calls probe on every candidate in resolution order until
// one succeeds. It returns the winning descriptor. Resolution failures are
// ErrResolution; running out of candidates is ErrExhausted wrapping the last
// probe error. op names the action in error messages.
func Each(ctx context.Context, r Resolver, op string, h Hints, probe Probe) (int, error) {
	cands, err := Lookup(ctx, r, h)
	if err != nil {
		return -1, err
	}

	var last error
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return -1, err
		}
		fd, err := probe(c)
		if err == nil {
			return fd, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return -1, err
		}
		last = err
	}
	return -1, nerrors.Exhausted(op, h.Host, h.Port, last)
}

// Lookup resolves h into candidates without probing them.
func Lookup(ctx context.Context, r Resolver, h Hints) ([]Candidate, error) {
	if r == nil {
		r = net.DefaultResolver
	}
	if h.SockType == 0 {
		h.SockType = unix.SOCK_STREAM
	}

	port, err := lookupPort(ctx, r, h.Port)
	if err != nil {
		return nil, nerrors.Resolution(h.Host, h.Port, err)
	}
	addrs, err := lookupHost(ctx, r, h)
	if err != nil {
		return nil, nerrors.Resolution(h.Host, h.Port, err)
	}

	var cands []Candidate
	for _, a := range addrs {
		a = a.Unmap()
		fam := unix.AF_INET6
		if a.Is4() {
			fam = unix.AF_INET
		}
		if h.Family != unix.AF_UNSPEC && h.Family != fam {
			continue
		}
		cands = append(cands, Candidate{
			Family:   fam,
			SockType: h.SockType,
			Protocol: h.Protocol,
			Flags:    h.Flags,
			Addr:     netip.AddrPortFrom(a, uint16(port)),
		})
	}
	if len(cands) == 0 {
		return nil, nerrors.Resolution(h.Host, h.Port, errNotFound)
	}
	return cands, nil
}

func lookupPort(ctx context.Context, r Resolver, port string) (int, error) {
	if port == "" {
		return 0, nil
	}
	if n, err := strconv.ParseUint(port, 10, 16); err == nil {
		return int(n), nil
	}
	return r.LookupPort(ctx, "tcp", port)
}

func lookupHost(ctx context.Context, r Resolver, h Hints) ([]netip.Addr, error) {
	if h.Host == "" {
		v4, v6 := netip.IPv4Unspecified(), netip.IPv6Unspecified()
		if h.Flags&Passive == 0 {
			v4, v6 = netip.AddrFrom4([4]byte{127, 0, 0, 1}), netip.IPv6Loopback()
		}
		return []netip.Addr{v4, v6}, nil
	}
	if a, err := netip.ParseAddr(h.Host); err == nil {
		return []netip.Addr{a}, nil
	}

	network := "ip"
	switch h.Family {
	case unix.AF_INET:
		network = "ip4"
	case unix.AF_INET6:
		network = "ip6"
	}
	return r.LookupNetIP(ctx, network, h.Host)
}

// Sockaddr converts an address to its socket form.
func Sockaddr(ap netip.AddrPort) unix.Sockaddr {
	a := ap.Addr().Unmap()
	if a.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: a.As4()}
	}
	sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: a.As16()}
	if z := a.Zone(); z != "" {
		if ifi, err := net.InterfaceByName(z); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa
}

// AddrPort converts a socket address back to netip form. Non-IP addresses
// yield the zero AddrPort.
func AddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}
