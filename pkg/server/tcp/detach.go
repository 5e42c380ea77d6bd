// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// InheritedFD is the descriptor number a detached child finds the listening
// socket on.
const InheritedFD = 3

// Detacher continues serving a listening socket in the background.
// Detach reports true when the caller should return and leave serving to the
// background copy.
type Detacher interface {
	Detach(listenFD int) (bool, error)
}

// Reexec detaches by starting a copy of the running binary with the listening
// socket inherited on InheritedFD. The copy learns about it from the
// environment variable named by Env, set to InheritedFD.
type Reexec struct {
	// Args are the arguments of the copy, without the program name.
	Args []string

	// Env is the name of the variable carrying the inherited descriptor.
	Env string
}

var _ Detacher = (*Reexec)(nil)

// Detach implements Detacher.
func (r *Reexec) Detach(listenFD int) (bool, error) {
	exe, err := os.Executable()
	if err != nil {
		return false, err
	}

	dup, err := unix.Dup(listenFD)
	if err != nil {
		return false, err
	}
	ln := os.NewFile(uintptr(dup), "listener")
	defer ln.Close()

	cmd := exec.Command(exe, r.Args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%d", r.Env, InheritedFD))
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{ln}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return false, err
	}
	return true, cmd.Process.Release()
}
