// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package tui renders a live view of a running dispatch: one row per
// worker slot plus the distribution counters, fed by progress events.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/matt-FFFFFF/divvy/internal/progress"
)

// SlotStatus represents the current state of a worker slot in the TUI.
type SlotStatus int

const (
	// SlotPending means no process has been spawned for the slot yet.
	SlotPending SlotStatus = iota
	// SlotRunning means the slot has a live worker process.
	SlotRunning
	// SlotExited means the last worker exited cleanly and the slot awaits a reboot.
	SlotExited
	// SlotFailed means the last worker exited with a failure disposition.
	SlotFailed
)

// String returns a string representation of the slot status.
func (s SlotStatus) String() string {
	switch s {
	case SlotPending:
		return "pending"
	case SlotRunning:
		return "running"
	case SlotExited:
		return "exited"
	case SlotFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type slotState struct {
	status SlotStatus
	pid    int
	since  time.Time
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// eventMsg wraps a progress event for delivery into the update loop.
type eventMsg struct {
	event progress.Event
}

// finishedMsg is sent when the dispatch run has returned.
type finishedMsg struct {
	err error
}

// ShutdownRequester receives the user's quit intents: first Ctrl+C is a
// graceful drain, the second a forceful termination.
type ShutdownRequester interface {
	Shutdown()
	Terminate()
}

// Model is the bubbletea model for a dispatch run.
type Model struct {
	taskName string
	slots    []slotState
	counters progress.EventData
	spin     spinner.Model

	shutdowns     ShutdownRequester
	quitRequested bool
	finished      bool
	err           error
}

// NewModel creates a model for a pool of n worker slots.
func NewModel(taskName string, n int, sh ShutdownRequester) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		taskName:  taskName,
		slots:     make([]slotState, n),
		spin:      sp,
		shutdowns: sh,
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.spin.Tick
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.quitRequested {
				m.shutdowns.Terminate()
				return m, nil
			}

			m.quitRequested = true
			m.shutdowns.Shutdown()

			return m, nil
		}

		return m, nil

	case eventMsg:
		m.apply(msg.event)
		return m, nil

	case finishedMsg:
		m.finished = true
		m.err = msg.err

		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)

		return m, cmd
	}

	return m, nil
}

func (m *Model) apply(e progress.Event) {
	switch e.Type {
	case progress.EventWorkerStarted:
		if s := m.slot(e.Slot); s != nil {
			*s = slotState{status: SlotRunning, pid: e.Pid, since: e.Timestamp}
		}

		m.counters = e.Data
	case progress.EventWorkerExited:
		if s := m.slot(e.Slot); s != nil {
			s.status = SlotExited
			if e.Data.Failed {
				s.status = SlotFailed
			}
		}

		m.counters = e.Data
	case progress.EventItemDispatched, progress.EventRunFinished:
		m.counters = e.Data
	case progress.EventShutdownRequested:
		m.quitRequested = true
	}
}

func (m *Model) slot(n int) *slotState {
	if n < 1 || n > len(m.slots) {
		return nil
	}

	return &m.slots[n-1]
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("divvy: %s", m.taskName)))
	b.WriteString("\n\n")

	for i, s := range m.slots {
		var line string

		switch s.status {
		case SlotRunning:
			line = runningStyle.Render(fmt.Sprintf("%s worker %d  pid %-8d running", m.spin.View(), i+1, s.pid))
		case SlotFailed:
			line = failedStyle.Render(fmt.Sprintf("✗ worker %d  pid %-8d failed", i+1, s.pid))
		case SlotExited:
			line = pendingStyle.Render(fmt.Sprintf("- worker %d  pid %-8d exited", i+1, s.pid))
		default:
			line = pendingStyle.Render(fmt.Sprintf("- worker %d  pending", i+1))
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("dispatched %d  failures %d  spawned %d\n",
		m.counters.TasksDistributed, m.counters.Failures, m.counters.SpawnCount))

	switch {
	case m.quitRequested && !m.finished:
		b.WriteString(footerStyle.Render("draining... press ctrl+c again to terminate"))
	default:
		b.WriteString(footerStyle.Render("press ctrl+c to stop"))
	}

	b.WriteString("\n")

	return b.String()
}
