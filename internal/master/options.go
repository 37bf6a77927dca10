// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package master

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/matt-FFFFFF/divvy/internal/progress"
	"github.com/matt-FFFFFF/divvy/internal/worker"
)

const (
	// DefaultGracefulTimeout caps how long teardown waits for workers to
	// drain before escalating to SIGKILL.
	DefaultGracefulTimeout = 30 * time.Second

	workerSubcommand = "worker"
)

// instanceSeq distinguishes the socket paths of multiple masters within
// one process.
var instanceSeq atomic.Uint64

// Options configures a Master.
type Options struct {
	// Workers is the fixed pool size N. Must be at least 1.
	Workers int

	// Verbose enables debug diagnostics in master and workers.
	Verbose bool

	// SocketPath overrides the dispatch socket location. Empty selects a
	// per-process path under the system temp directory.
	SocketPath string

	// TaskName is the registered name workers use to reconstruct the task.
	// Required unless WorkerCommand is set.
	TaskName string

	// GracefulTimeout caps the graceful drain during teardown. Zero
	// selects DefaultGracefulTimeout.
	GracefulTimeout time.Duration

	// WorkerCommand overrides how worker processes are started. The
	// default re-executes the current binary with the hidden worker
	// subcommand.
	WorkerCommand func(h *worker.Handle) worker.Command

	// Reporter receives dispatch progress events. Nil selects the no-op
	// reporter.
	Reporter progress.Reporter
}

// DefaultSocketPath returns a socket path unique to this process and
// master instance.
func DefaultSocketPath() string {
	n := instanceSeq.Add(1)
	return filepath.Join(os.TempDir(), fmt.Sprintf("divvy-%d-%d.sock", os.Getpid(), n))
}

// selfExecCommand builds the default worker command: the current binary,
// re-executed with the hidden worker subcommand.
func selfExecCommand(taskName string, verbose bool) (func(h *worker.Handle) worker.Command, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}

	return func(h *worker.Handle) worker.Command {
		args := []string{
			filepath.Base(exe),
			workerSubcommand,
			"--task", taskName,
			"--socket", h.SocketPath(),
			"--number", strconv.Itoa(h.Number()),
		}
		if verbose {
			args = append(args, "--verbose")
		}

		return worker.Command{Path: exe, Args: args}
	}, nil
}
