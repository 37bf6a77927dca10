// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/matt-FFFFFF/divvy/internal/progress"
)

// Reporter implements progress.Reporter by forwarding events into the
// bubbletea program.
type Reporter struct {
	program *tea.Program
	closed  bool
	mutex   sync.RWMutex
}

// NewReporter creates a reporter bound to the given program.
func NewReporter(program *tea.Program) *Reporter {
	return &Reporter{program: program}
}

// Report implements progress.Reporter.
func (r *Reporter) Report(event progress.Event) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if r.closed || r.program == nil {
		return
	}

	r.program.Send(eventMsg{event: event})
}

// Close implements progress.Reporter.
func (r *Reporter) Close() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.closed = true
}

// Runner couples a dispatch run with the live display.
type Runner struct {
	program  *tea.Program
	reporter *Reporter
}

// NewRunner creates the program and its reporter. Wire the reporter into
// the master's options before calling Run.
func NewRunner(taskName string, workers int, sh ShutdownRequester) *Runner {
	model := NewModel(taskName, workers, sh)
	program := tea.NewProgram(model)

	return &Runner{
		program:  program,
		reporter: NewReporter(program),
	}
}

// Reporter returns the progress reporter for this runner.
func (r *Runner) Reporter() progress.Reporter {
	return r.reporter
}

// Run starts the display and the dispatch concurrently and returns the
// dispatch error once both have finished. The display intercepts Ctrl+C;
// the run function is stopped through the ShutdownRequester, never by
// killing the program.
func (r *Runner) Run(ctx context.Context, run func(context.Context) error) error {
	errCh := make(chan error, 1)

	go func() {
		err := run(ctx)
		r.reporter.Close()
		r.program.Send(finishedMsg{err: err})
		errCh <- err
	}()

	if _, err := r.program.Run(); err != nil {
		// Display failure: keep the dispatch going headless and report
		// its outcome.
		return <-errCh
	}

	return <-errCh
}
