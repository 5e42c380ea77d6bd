// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"errors"
	"io"
	"os"
	"os/exec"
)

// ErrNoCommand is returned when a worker is requested without a command.
var ErrNoCommand = errors.New("no worker command configured")

// Worker is a started worker process.
type Worker interface {
	Wait() error
}

// Spawner starts a worker with conn on its standard input and output, and on
// its standard error too when stderr is set. The worker receives its own
// copies of conn; the caller closes conn afterwards.
type Spawner interface {
	Spawn(conn *os.File, stderr bool) (Worker, error)
}

// ExecSpawner runs Command as the worker.
type ExecSpawner struct {
	Command []string

	// Stderr is the worker's standard error when the connection is not
	// used for it. Defaults to os.Stderr.
	Stderr io.Writer
}

var _ Spawner = (*ExecSpawner)(nil)

// Spawn implements Spawner.
func (s *ExecSpawner) Spawn(conn *os.File, stderr bool) (Worker, error) {
	if len(s.Command) == 0 {
		return nil, ErrNoCommand
	}

	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	cmd.Stdin = conn
	cmd.Stdout = conn
	switch {
	case stderr:
		cmd.Stderr = conn
	case s.Stderr != nil:
		cmd.Stderr = s.Stderr
	default:
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}
