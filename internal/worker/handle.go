// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package worker models one child process of the pool. The Handle is the
// master-side record of a slot: spawn, non-blocking reap, signal delivery.
// The Runtime is the child-side main loop that consumes items from the
// dispatch socket.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/matt-FFFFFF/divvy/internal/ctxlog"
)

var (
	// ErrAlreadyRunning is returned by Spawn when the slot has a live child.
	ErrAlreadyRunning = errors.New("worker already running")
	// ErrNotSpawned is returned when an operation needs a pid that was never set.
	ErrNotSpawned = errors.New("worker was never spawned")
	// ErrCouldNotStartProcess is returned when the child process could not be started.
	ErrCouldNotStartProcess = errors.New("could not start worker process")
)

// Command describes how to start a worker process. The default used by the
// master re-executes the current binary with the hidden worker subcommand;
// tests substitute their own.
type Command struct {
	Path string   // Executable full path.
	Args []string // Full argv, including the executable name at index 0.
	Env  []string // Environment for the child; nil inherits the parent's.
}

// Handle is the master-side record of one worker slot. A reaped slot keeps
// its number; a fresh child occupying it is a new OS process with a new pid.
type Handle struct {
	number     int
	socketPath string
	verbose    bool

	pid    int
	status *unix.WaitStatus
}

// NewHandle creates a handle for slot number (1..N).
func NewHandle(number int, socketPath string, verbose bool) *Handle {
	return &Handle{
		number:     number,
		socketPath: socketPath,
		verbose:    verbose,
	}
}

// Number returns the stable slot id.
func (h *Handle) Number() int { return h.number }

// Pid returns the child's process id, or 0 before the first spawn.
func (h *Handle) Pid() int { return h.pid }

// SocketPath returns the dispatch socket path shared by the pool.
func (h *Handle) SocketPath() string { return h.socketPath }

// Verbose reports whether verbose diagnostics were requested.
func (h *Handle) Verbose() bool { return h.verbose }

// Running reports whether a child was spawned and has not been reaped.
func (h *Handle) Running() bool {
	return h.pid != 0 && h.status == nil
}

// Status returns the exit disposition recorded by Reap, or nil while the
// child is running.
func (h *Handle) Status() *unix.WaitStatus { return h.status }

// Failed reports whether the recorded disposition is a failure: a non-zero
// exit code or death by signal.
func (h *Handle) Failed() bool {
	if h.status == nil {
		return false
	}

	return !(h.status.Exited() && h.status.ExitStatus() == 0)
}

// Spawn starts a new child for this slot. The previous status is cleared
// and the new pid recorded. The child inherits stdout and stderr but not
// stdin.
func (h *Handle) Spawn(ctx context.Context, cmd Command) (int, error) {
	if h.Running() {
		return 0, fmt.Errorf("%w: slot %d pid %d", ErrAlreadyRunning, h.number, h.pid)
	}

	logger := ctxlog.Logger(ctx).With("slot", h.number)
	logger.Debug("starting worker process", "path", cmd.Path, "args", cmd.Args)

	ps, err := os.StartProcess(cmd.Path, cmd.Args, &os.ProcAttr{
		Env: cmd.Env,
		// Workers never read stdin.
		Files: []*os.File{nil, os.Stdout, os.Stderr},
	})
	if err != nil {
		return 0, errors.Join(ErrCouldNotStartProcess, err)
	}

	h.pid = ps.Pid
	h.status = nil

	// Reaping happens through wait4 by pid; drop the os.Process.
	_ = ps.Release()

	logger.Debug("worker process started", "pid", h.pid)

	return h.pid, nil
}

// Reap performs a non-blocking wait on the child. It returns true once the
// exit disposition has been recorded, and is idempotent afterwards.
func (h *Handle) Reap() (bool, error) {
	if h.pid == 0 {
		return false, ErrNotSpawned
	}

	if h.status != nil {
		return true, nil
	}

	var ws unix.WaitStatus

	for {
		wpid, err := unix.Wait4(h.pid, &ws, unix.WNOHANG, nil)

		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.ECHILD):
			// Someone else collected it; record an empty disposition so the
			// slot stops counting as running.
			ws = 0
			h.status = &ws

			return true, nil
		case err != nil:
			return false, err
		case wpid == 0:
			return false, nil
		default:
			h.status = &ws
			return true, nil
		}
	}
}

// Kill sends sig to the child. It returns false if the process no longer
// exists and an error if the slot was never spawned.
func (h *Handle) Kill(sig unix.Signal) (bool, error) {
	if h.pid == 0 {
		return false, ErrNotSpawned
	}

	err := unix.Kill(h.pid, sig)

	switch {
	case errors.Is(err, unix.ESRCH):
		return false, nil
	case err != nil:
		return false, err
	}

	return true, nil
}
