// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package master

import "errors"

var (
	// ErrBootFailure is returned when every worker exited before a single
	// item was distributed. Children are dying before they consume work,
	// so rebooting them would loop forever.
	ErrBootFailure = errors.New("boot failure: all workers exited before any work was distributed")
	// ErrForcefulShutdown is returned when the run was terminated by
	// SIGTERM or a late repeat SIGINT/SIGQUIT. In-flight items are
	// abandoned and stragglers killed.
	ErrForcefulShutdown = errors.New("forceful shutdown")
	// ErrListenerExists is returned when Run is called a second time on the
	// same master, whether or not the first run has finished.
	ErrListenerExists = errors.New("dispatch listener already exists")
	// ErrNotMaster is returned when a master operation is invoked from a
	// child runtime.
	ErrNotMaster = errors.New("not the master process")
	// ErrDispatch is returned when an accepted connection could not be
	// written to.
	ErrDispatch = errors.New("failed to dispatch item")
	// ErrWorkerCount is returned when the configured worker count is < 1.
	ErrWorkerCount = errors.New("worker count must be at least 1")
)
