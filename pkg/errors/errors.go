// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the error taxonomy for netcat.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// Error classes. Every error produced by the establishment and forwarding
// layers unwraps to exactly one of these.
var (
	// ErrResolution indicates the name or service lookup failed or
	// returned no candidates.
	ErrResolution = errors.New("resolution failed")

	// ErrExhausted indicates every resolved candidate was probed and all failed.
	ErrExhausted = errors.New("all candidates failed")

	// ErrConnectTimeout indicates the explicit wait timeout elapsed before a
	// connection was established.
	ErrConnectTimeout = errors.New("timeout")

	// ErrSocketOp indicates a bind, listen, accept or setsockopt failure
	// outside the candidate retry path.
	ErrSocketOp = errors.New("socket operation failed")

	// ErrRelayWrite indicates a write failed while forwarding.
	ErrRelayWrite = errors.New("relay write failed")
)

// NetError wraps an error with the operation and address context.
type NetError struct {
	Op    string // Operation that failed (connect, bind, listen, accept, write)
	Class error  // One of the Err* classes above
	Host  string // Host as given by the operator, may be empty
	Port  string // Port as given by the operator, may be empty
	Err   error  // Underlying error
}

// Error implements the error interface.
func (e *NetError) Error() string {
	addr := e.Host
	if e.Port != "" {
		addr = net.JoinHostPort(e.Host, e.Port)
	}
	cause := e.Err
	if cause == nil {
		cause = e.Class
	}
	if addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, cause)
	}
	return fmt.Sprintf("%s '%s': %v", e.Op, addr, cause)
}

// Unwrap exposes both the class and the underlying error to errors.Is and errors.As.
func (e *NetError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

// New creates a NetError of the given class.
func New(class error, op, host, port string, err error) error {
	return &NetError{
		Op:    op,
		Class: class,
		Host:  host,
		Port:  port,
		Err:   err,
	}
}

// Resolution reports a failed lookup of host:port.
func Resolution(host, port string, err error) error {
	return New(ErrResolution, "getaddrinfo", host, port, err)
}

// Exhausted reports that no candidate for host:port could be used. err is the
// failure of the last candidate tried.
func Exhausted(op, host, port string, err error) error {
	return New(ErrExhausted, op, host, port, err)
}

// SocketOp reports a fatal socket operation failure.
func SocketOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return New(ErrSocketOp, op, "", "", err)
}

// RelayWrite reports a failed write while forwarding.
func RelayWrite(err error) error {
	if err == nil {
		return nil
	}
	return New(ErrRelayWrite, "write", "", "", err)
}

// ConnectTimeout reports that the explicit wait timeout fired.
func ConnectTimeout() error {
	return New(ErrConnectTimeout, "connect", "", "", nil)
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
