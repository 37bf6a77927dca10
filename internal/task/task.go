// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package task defines the contract between divvy and the code it runs.
// A task bundles a generator, which lazily emits tuples of work, and a
// processor, which handles one tuple inside a worker process. Optional
// hook interfaces observe worker lifecycle events on either side of the
// process boundary.
package task

import (
	"context"
	"errors"
)

// ErrStopDispatch is returned by emit when the master can no longer accept
// items (a graceful shutdown was requested or the run context was
// cancelled). Other stop reasons (boot failure, forceful shutdown, a failed
// write) are reported with their own errors. Generators should stop
// emitting and return it unchanged; the run does not treat it as a failure.
var ErrStopDispatch = errors.New("dispatch stopped")

// Tuple is one unit of work. Values must stay within the wire value domain:
// nil, bool, integers, float64, string, []byte, []any and map[string]any.
// A tuple read back in a worker is normalized to int64/float64/string/[]byte
// collections, see the wire package.
type Tuple []any

// Emit hands one tuple to the dispatcher. It blocks until a worker has
// accepted the item or returns an error; ErrStopDispatch means the run is
// winding down and no further tuples will be accepted.
type Emit func(Tuple) error

// Task is implemented by user code and registered by name.
type Task interface {
	// Generate produces the work. It must call emit once per tuple and
	// return when there is no more work, or when emit returns an error.
	// The error returned by emit must be propagated unchanged.
	Generate(ctx context.Context, emit Emit) error

	// Process handles one tuple. It runs in a worker process, never in the
	// master. A returned error marks the item as failed; the item is not
	// retried.
	Process(ctx context.Context, args Tuple) error
}

// WorkerInfo is the subset of the worker handle visible to hooks.
type WorkerInfo interface {
	// Number is the stable 1..N slot id.
	Number() int
	// Pid is the worker's OS process id, or 0 before spawn.
	Pid() int
	// SocketPath is the path of the dispatch socket.
	SocketPath() string
}

// BeforeSpawner is implemented by tasks that want a callback in the master
// just before a worker process is started. The handle's pid is not yet set.
type BeforeSpawner interface {
	BeforeSpawn(w WorkerInfo)
}

// AfterSpawner is implemented by tasks that want a callback inside the
// worker process at startup, before the first item is consumed. The
// handle's pid equals the current process id.
type AfterSpawner interface {
	AfterSpawn(w WorkerInfo)
}
