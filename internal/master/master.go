// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package master implements the dispatch engine. One master drives a
// user task's generator, fans the emitted tuples out to a fixed pool of
// worker processes over a unix stream socket, reaps and replaces dead
// workers, and tears the pool down on generator exhaustion or signals.
package master

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/matt-FFFFFF/divvy/internal/ctxlog"
	"github.com/matt-FFFFFF/divvy/internal/listener"
	"github.com/matt-FFFFFF/divvy/internal/progress"
	"github.com/matt-FFFFFF/divvy/internal/task"
	"github.com/matt-FFFFFF/divvy/internal/wire"
	"github.com/matt-FFFFFF/divvy/internal/worker"
)

const (
	// acceptPollInterval bounds each wait for an accepting worker so the
	// loop can observe the shutdown and reap flags.
	acceptPollInterval = 10 * time.Millisecond
	// reapInterval is the sleep between reap attempts during teardown.
	reapInterval = 10 * time.Millisecond
)

// Counters is a snapshot of the master's dispatch statistics.
type Counters struct {
	// TasksDistributed counts successful writes of a serialized tuple to
	// an accepted connection.
	TasksDistributed uint64
	// Failures counts reaped non-zero child dispositions.
	Failures uint64
	// SpawnCount counts successful worker process starts.
	SpawnCount uint64
}

// Master owns the worker pool and the dispatch socket. It is valid only
// in the process that created it; worker processes run a worker.Runtime
// instead.
type Master struct {
	opts     Options
	taskImpl task.Task
	workers  []*worker.Handle
	lst      *listener.Listener
	reporter progress.Reporter

	fl  flags
	ran atomic.Bool

	// runCtx is the context passed to Run, for logging and hooks inside
	// the emit path (whose signature carries no context).
	runCtx context.Context

	bootFailed bool

	tasksDistributed atomic.Uint64
	failures         atomic.Uint64
	spawnCount       atomic.Uint64
}

// New creates a master for the given task.
func New(t task.Task, opts Options) (*Master, error) {
	if opts.Workers < 1 {
		return nil, ErrWorkerCount
	}

	if opts.SocketPath == "" {
		opts.SocketPath = DefaultSocketPath()
	}

	if opts.GracefulTimeout <= 0 {
		opts.GracefulTimeout = DefaultGracefulTimeout
	}

	if opts.WorkerCommand == nil {
		wc, err := selfExecCommand(opts.TaskName, opts.Verbose)
		if err != nil {
			return nil, err
		}

		opts.WorkerCommand = wc
	}

	if opts.Reporter == nil {
		opts.Reporter = progress.NullReporter{}
	}

	workers := make([]*worker.Handle, opts.Workers)
	for i := range workers {
		workers[i] = worker.NewHandle(i+1, opts.SocketPath, opts.Verbose)
	}

	return &Master{
		opts:     opts,
		taskImpl: t,
		workers:  workers,
		reporter: opts.Reporter,
	}, nil
}

// SetReporter replaces the progress reporter. Must be called before Run.
func (m *Master) SetReporter(r progress.Reporter) {
	if r == nil {
		r = progress.NullReporter{}
	}

	m.reporter = r
}

// SocketPath returns the dispatch socket path in use.
func (m *Master) SocketPath() string {
	return m.opts.SocketPath
}

// Counters returns a snapshot of the dispatch statistics.
func (m *Master) Counters() Counters {
	return Counters{
		TasksDistributed: m.tasksDistributed.Load(),
		Failures:         m.failures.Load(),
		SpawnCount:       m.spawnCount.Load(),
	}
}

// Shutdown requests a graceful shutdown: the dispatch loop stops handing
// out items after the current one and teardown drains the pool. Safe to
// call from any goroutine.
func (m *Master) Shutdown() {
	m.fl.requestShutdown(time.Now())
	m.reporter.Report(progress.Event{
		Type:      progress.EventShutdownRequested,
		Timestamp: time.Now(),
		Message:   "shutdown requested",
	})
}

// Terminate requests a forceful shutdown: the dispatch loop unwinds with
// ErrForcefulShutdown and teardown kills stragglers.
func (m *Master) Terminate() {
	m.fl.requestShutdown(time.Now())
	m.fl.forceful.Store(true)
}

// Run drives the generator to exhaustion, dispatching every emitted tuple
// to a worker. It blocks until teardown is complete: on return no worker
// process remains and the socket file is gone.
//
// Run returns nil on generator exhaustion or graceful shutdown,
// ErrBootFailure when workers flap before consuming anything,
// ErrForcefulShutdown on SIGTERM or a late repeat SIGINT/SIGQUIT, and the
// generator's own error when user code fails in the master.
func (m *Master) Run(ctx context.Context) error {
	if m.workers == nil {
		return ErrNotMaster
	}

	if !m.ran.CompareAndSwap(false, true) {
		return ErrListenerExists
	}

	sc := installSignals(ctx, &m.fl)

	// Bind errors surface before any worker is spawned.
	lst, err := listener.Start(m.opts.SocketPath, len(m.workers))
	if err != nil {
		sc.restore()
		return err
	}

	m.lst = lst
	m.runCtx = ctx

	genErr := m.taskImpl.Generate(ctx, m.dispatch)
	if errors.Is(genErr, task.ErrStopDispatch) {
		// Our own stop request, reflected back by a well-behaved
		// generator. The flags carry the real outcome.
		genErr = nil
	}

	return m.teardown(ctx, sc, genErr)
}

// dispatch is the emit function handed to the generator: it boots any
// empty slots, waits for an accepting worker, and writes one tuple.
func (m *Master) dispatch(t task.Tuple) error {
	logger := ctxlog.Logger(m.runCtx)

	if err := m.checkpoint(); err != nil {
		return err
	}

	if err := m.bootGaps(); err != nil {
		return err
	}

	for {
		conn, err := m.lst.Accept(acceptPollInterval)

		switch {
		case errors.Is(err, listener.ErrNoPending):
			if err := m.checkpoint(); err != nil {
				return err
			}

			if m.fl.reap.Swap(false) {
				m.reapAll()

				if !m.anyRunning() && m.tasksDistributed.Load() == 0 {
					// Flapping workers: children die before consuming
					// anything, so rebooting would loop forever.
					m.bootFailed = true
					return ErrBootFailure
				}

				if err := m.bootGaps(); err != nil {
					return err
				}
			}

			continue
		case err != nil:
			return err
		}

		werr := wire.WriteTuple(conn, t)

		// The close is the signal to the worker that the item is complete;
		// it happens even when the write failed.
		cerr := conn.Close()

		if werr != nil {
			return errors.Join(ErrDispatch, werr)
		}

		_ = cerr

		n := m.tasksDistributed.Add(1)
		logger.Debug("item dispatched", "tasksDistributed", n)
		m.reporter.Report(progress.Event{
			Type:      progress.EventItemDispatched,
			Timestamp: time.Now(),
			Data:      m.eventCounters(),
		})

		// Post-item checkpoint: shutdown is observed on the next emit;
		// opportunistically collect any child that died meanwhile.
		if m.fl.reap.Swap(false) {
			m.reapAll()
		}

		return nil
	}
}

// checkpoint translates the shutdown flags into the error the generator
// sees at the loop's well-defined observation points.
func (m *Master) checkpoint() error {
	if m.fl.forceful.Load() {
		return ErrForcefulShutdown
	}

	if m.fl.shutdownRequested() {
		return task.ErrStopDispatch
	}

	// Context cancellation from the caller counts as a graceful request.
	if m.runCtx.Err() != nil {
		m.fl.requestShutdown(time.Now())
		return task.ErrStopDispatch
	}

	return nil
}

// bootGaps spawns a fresh child for every slot that is not running.
func (m *Master) bootGaps() error {
	logger := ctxlog.Logger(m.runCtx)

	for _, h := range m.workers {
		if h.Running() {
			continue
		}

		if hook, ok := m.taskImpl.(task.BeforeSpawner); ok {
			hook.BeforeSpawn(h)
		}

		pid, err := h.Spawn(m.runCtx, m.opts.WorkerCommand(h))
		if err != nil {
			return err
		}

		m.spawnCount.Add(1)
		logger.Debug("worker booted", "slot", h.Number(), "pid", pid)
		m.reporter.Report(progress.Event{
			Type:      progress.EventWorkerStarted,
			Timestamp: time.Now(),
			Slot:      h.Number(),
			Pid:       pid,
			Data:      m.eventCounters(),
		})
	}

	return nil
}

// reapAll collects every exited child and counts non-zero dispositions.
func (m *Master) reapAll() {
	logger := ctxlog.Logger(m.runCtx)

	for _, h := range m.workers {
		if !h.Running() {
			continue
		}

		reaped, err := h.Reap()
		if err != nil {
			logger.Warn("reap failed", "slot", h.Number(), "pid", h.Pid(), "error", err)
			continue
		}

		if !reaped {
			continue
		}

		failed := h.Failed()
		if failed {
			m.failures.Add(1)
		}

		logger.Debug("worker reaped", "slot", h.Number(), "pid", h.Pid(), "failed", failed)
		m.reporter.Report(progress.Event{
			Type:      progress.EventWorkerExited,
			Timestamp: time.Now(),
			Slot:      h.Number(),
			Pid:       h.Pid(),
			Data: progress.EventData{
				Failed:           failed,
				TasksDistributed: m.tasksDistributed.Load(),
				Failures:         m.failures.Load(),
				SpawnCount:       m.spawnCount.Load(),
			},
		})
	}
}

func (m *Master) anyRunning() bool {
	for _, h := range m.workers {
		if h.Running() {
			return true
		}
	}

	return false
}

// teardown runs on every exit path: normal exhaustion, generator error,
// boot failure and forceful shutdown. It closes the listener (workers
// connecting afterwards observe end-of-stream and exit), drains or kills
// the pool, and restores signal dispositions.
func (m *Master) teardown(ctx context.Context, sc *signalController, genErr error) error {
	logger := ctxlog.Logger(ctx)

	if err := m.lst.Stop(); err != nil {
		logger.Warn("listener stop failed", "error", err)
	}

	deadline := time.Now().Add(m.opts.GracefulTimeout)

	for m.anyRunning() {
		m.reapAll()

		if !m.anyRunning() {
			break
		}

		// The forceful flag is still live here: a TERM during the drain
		// escalates the remaining iterations.
		if m.fl.forceful.Load() || time.Now().After(deadline) {
			for _, h := range m.workers {
				if !h.Running() {
					continue
				}

				if _, err := h.Kill(unix.SIGKILL); err != nil {
					logger.Warn("kill failed", "slot", h.Number(), "pid", h.Pid(), "error", err)
				}
			}
		}

		time.Sleep(reapInterval)
	}

	sc.restore()

	err := m.runError(genErr)

	m.reporter.Report(progress.Event{
		Type:      progress.EventRunFinished,
		Timestamp: time.Now(),
		Data: progress.EventData{
			TasksDistributed: m.tasksDistributed.Load(),
			Failures:         m.failures.Load(),
			SpawnCount:       m.spawnCount.Load(),
			Err:              err,
		},
	})

	logger.Debug("teardown complete",
		"tasksDistributed", m.tasksDistributed.Load(),
		"failures", m.failures.Load(),
		"spawnCount", m.spawnCount.Load(),
		"error", err,
	)

	return err
}

// runError picks the error reported to the caller: forceful shutdown wins,
// then boot failure, then whatever the generator returned.
func (m *Master) runError(genErr error) error {
	switch {
	case m.fl.forceful.Load():
		return ErrForcefulShutdown
	case m.bootFailed || errors.Is(genErr, ErrBootFailure):
		return ErrBootFailure
	default:
		return genErr
	}
}

func (m *Master) eventCounters() progress.EventData {
	return progress.EventData{
		TasksDistributed: m.tasksDistributed.Load(),
		Failures:         m.failures.Load(),
		SpawnCount:       m.spawnCount.Load(),
	}
}
