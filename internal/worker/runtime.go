// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/matt-FFFFFF/divvy/internal/ctxlog"
	"github.com/matt-FFFFFF/divvy/internal/task"
	"github.com/matt-FFFFFF/divvy/internal/wire"
)

const (
	// readRecheckInterval bounds the wait on connection readability so the
	// runtime can notice its local shutdown flag while queued in the
	// listener backlog.
	readRecheckInterval = 250 * time.Millisecond

	// frameReadTimeout bounds the read of one frame once its first byte
	// has arrived. Frames are small; the master writes them in one go.
	frameReadTimeout = 30 * time.Second

	// TraceEnv forces error backtraces from workers regardless of the
	// verbose flag.
	TraceEnv = "DIVVY_TRACE"
)

// Runtime is the child side of a worker slot. It owns no handle slice and
// no listener; its only link to the master is the dispatch socket.
type Runtime struct {
	handle *Handle
	task   task.Task
	stderr io.Writer

	shutdown atomic.Bool
}

// NewRuntime creates the runtime for the current worker process. The
// handle records the child's own view of the slot: its number, the socket
// path, and the current process id.
func NewRuntime(number int, socketPath string, verbose bool, t task.Task) *Runtime {
	h := NewHandle(number, socketPath, verbose)
	h.pid = os.Getpid()

	return &Runtime{
		handle: h,
		task:   t,
		stderr: os.Stderr,
	}
}

// Handle returns the child's view of its own slot.
func (r *Runtime) Handle() *Handle { return r.handle }

// Main consumes items from the dispatch socket until end-of-stream or a
// termination signal, and returns the process exit code. Termination
// signals let the current item finish; the loop exits before the next
// dequeue.
func (r *Runtime) Main(ctx context.Context) int {
	logger := ctxlog.Logger(ctx).With("worker", r.handle.Number(), "pid", r.handle.Pid())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	defer func() {
		signal.Stop(sigCh)
		close(sigCh)
	}()

	go func() {
		for range sigCh {
			r.shutdown.Store(true)
		}
	}()

	if hook, ok := r.task.(task.AfterSpawner); ok {
		hook.AfterSpawn(r.handle)
	}

	logger.Debug("worker ready")

	for {
		t, ok := r.dequeue(logger)
		if !ok {
			return 0
		}

		if err := r.process(ctx, t); err != nil {
			r.diagnose(t, err)
			return 1
		}

		if r.shutdown.Load() {
			logger.Debug("worker shutting down after signal")
			return 0
		}
	}
}

// dequeue connects to the socket and reads one item. ok is false when the
// stream has ended and the worker should exit cleanly.
func (r *Runtime) dequeue(logger *slog.Logger) (task.Tuple, bool) {
	conn, err := net.Dial("unix", r.handle.SocketPath())
	if err != nil {
		// Listener closed or socket file gone: the master is draining.
		logger.Debug("dispatch socket unavailable", "error", err)
		return nil, false
	}

	defer conn.Close() //nolint:errcheck

	// The connection can sit unaccepted in the listener backlog for as
	// long as the generator takes to produce the next item, so the wait
	// for the first byte is re-armed indefinitely; each expiry is only an
	// opportunity to observe the shutdown flag. Peeking through the
	// buffered reader keeps a partially received frame intact across
	// deadline renewals.
	br := bufio.NewReader(conn)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(readRecheckInterval)); err != nil {
			return nil, false
		}

		_, err := br.Peek(1)

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			if r.shutdown.Load() {
				return nil, false
			}

			continue
		}

		switch {
		case errors.Is(err, io.EOF):
			// Clean end-of-stream before any byte: the listener closed.
			return nil, false
		case err != nil:
			logger.Debug("read failed", "error", err)
			return nil, false
		}

		break
	}

	if err := conn.SetReadDeadline(time.Now().Add(frameReadTimeout)); err != nil {
		return nil, false
	}

	t, err := wire.ReadTuple(br)
	if err != nil {
		logger.Debug("frame read failed", "error", err)
		return nil, false
	}

	return t, true
}

// process runs the task's processor on one tuple, converting panics into
// errors so the runtime can emit a single diagnostic and exit 1.
func (r *Runtime) process(ctx context.Context, t task.Tuple) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()

	return r.task.Process(ctx, t)
}

// diagnose emits the single per-failure line, with a backtrace when
// verbose or the trace environment variable asks for one.
func (r *Runtime) diagnose(t task.Tuple, err error) {
	fmt.Fprintf(r.stderr, "divvy worker %d (pid %d): item failed: %v\n", r.handle.Number(), r.handle.Pid(), err)

	if r.handle.Verbose() || os.Getenv(TraceEnv) != "" {
		buf := make([]byte, 64*1024)
		n := runtime.Stack(buf, false)
		fmt.Fprintf(r.stderr, "item: %v\n%s\n", t, buf[:n])
	}
}
