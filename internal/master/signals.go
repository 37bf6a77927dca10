// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package master

import (
	"context"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/matt-FFFFFF/divvy/internal/ctxlog"
)

const (
	// repeatGracePeriod is the window after a first SIGINT/SIGQUIT during
	// which repeats are ignored. A repeat delivered after the window
	// escalates to a forceful shutdown: tap Ctrl+C once to drain, and
	// again later to really quit.
	repeatGracePeriod = 10 * time.Second

	stackDumpSize = 1 * 1024 * 1024
)

// flags is the shared state between signal delivery and the dispatch
// loop. Handlers only store into it; the loop observes it at its bounded
// wait points.
type flags struct {
	// shutdownAt is the unix-nano timestamp of the graceful shutdown
	// request, 0 while none was made.
	shutdownAt atomic.Int64
	// forceful marks the shutdown as non-graceful.
	forceful atomic.Bool
	// reap is raised by SIGCHLD; the loop reaps exited children when set.
	reap atomic.Bool
}

func (f *flags) shutdownRequested() bool {
	return f.shutdownAt.Load() != 0
}

// requestShutdown records a graceful shutdown request, keeping the
// original timestamp if one was already made.
func (f *flags) requestShutdown(now time.Time) {
	f.shutdownAt.CompareAndSwap(0, now.UnixNano())
}

// signalController owns the process-level signal dispositions for the
// lifetime of a run.
type signalController struct {
	ch     chan os.Signal
	done   chan struct{}
	fl     *flags
	stderr io.Writer
}

// installSignals takes over INT, QUIT, TERM, CHLD and USR1 and translates
// deliveries into flag stores. USR1 stands in for SIGINFO on platforms
// without it and dumps the master's goroutine stacks to stderr.
func installSignals(ctx context.Context, fl *flags) *signalController {
	sc := &signalController{
		// CHLD can burst; buffer generously, coalescing is fine because
		// delivery only sets a flag.
		ch:     make(chan os.Signal, 16),
		done:   make(chan struct{}),
		fl:     fl,
		stderr: os.Stderr,
	}

	signal.Notify(sc.ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
		syscall.SIGCHLD,
		syscall.SIGUSR1,
	)

	go sc.translate(ctx)

	return sc
}

func (sc *signalController) translate(ctx context.Context) {
	logger := ctxlog.Logger(ctx)

	for {
		select {
		case <-sc.done:
			return
		case sig := <-sc.ch:
			switch sig {
			case syscall.SIGINT, syscall.SIGQUIT:
				now := time.Now()

				at := sc.fl.shutdownAt.Load()
				if at == 0 {
					logger.Info("shutdown requested, draining", "signal", sig.String())
					sc.fl.requestShutdown(now)

					continue
				}

				if now.Sub(time.Unix(0, at)) > repeatGracePeriod {
					logger.Info("repeat signal after grace period, terminating", "signal", sig.String())
					sc.fl.forceful.Store(true)
				}
			case syscall.SIGTERM:
				logger.Info("terminating", "signal", sig.String())
				sc.fl.requestShutdown(time.Now())
				sc.fl.forceful.Store(true)
			case syscall.SIGCHLD:
				sc.fl.reap.Store(true)
			case syscall.SIGUSR1:
				sc.dumpStacks()
			}
		}
	}
}

// dumpStacks writes all goroutine stacks to the error stream.
func (sc *signalController) dumpStacks() {
	buf := make([]byte, stackDumpSize)
	n := runtime.Stack(buf, true)
	_, _ = sc.stderr.Write(buf[:n])
}

// restore returns the signal dispositions to their pre-run state and stops
// the translator.
func (sc *signalController) restore() {
	signal.Stop(sc.ch)
	close(sc.done)
}
