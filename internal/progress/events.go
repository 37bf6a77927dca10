// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"time"
)

// Event is a real-time update from the dispatch engine, consumed by the
// TUI and other monitoring code.
type Event struct {
	Type      EventType // What happened.
	Timestamp time.Time // When it happened.
	Slot      int       // Worker slot (0 for run-level events).
	Pid       int       // Worker pid, when known.
	Message   string    // Human-readable status message.
	Data      EventData // Type-specific data.
}

// EventType represents the type of progress event.
type EventType int

const (
	// EventWorkerStarted indicates a worker process was spawned.
	EventWorkerStarted EventType = iota
	// EventWorkerExited indicates a worker was reaped.
	EventWorkerExited
	// EventItemDispatched indicates one item was written to a worker.
	EventItemDispatched
	// EventShutdownRequested indicates a graceful shutdown was requested.
	EventShutdownRequested
	// EventRunFinished indicates the dispatch loop has torn down.
	EventRunFinished
)

// String implements the Stringer interface for EventType.
func (et EventType) String() string {
	switch et {
	case EventWorkerStarted:
		return "worker started"
	case EventWorkerExited:
		return "worker exited"
	case EventItemDispatched:
		return "item dispatched"
	case EventShutdownRequested:
		return "shutdown requested"
	case EventRunFinished:
		return "run finished"
	default:
		return "unknown"
	}
}

// EventData contains type-specific information for events.
type EventData struct {
	// For EventWorkerExited.
	Failed bool // Non-zero exit disposition.

	// For EventWorkerStarted, EventWorkerExited, EventItemDispatched and
	// EventRunFinished.
	TasksDistributed uint64
	Failures         uint64
	SpawnCount       uint64

	// For EventRunFinished.
	Err error
}

// Reporter is implemented by sinks for dispatch events. Implementations
// must be non-blocking; the dispatch loop calls Report between items.
type Reporter interface {
	Report(event Event)
	Close()
}

// NullReporter is a no-op Reporter, used when nothing is listening.
type NullReporter struct{}

// Report implements Reporter by doing nothing.
func (NullReporter) Report(Event) {}

// Close implements Reporter by doing nothing.
func (NullReporter) Close() {}
