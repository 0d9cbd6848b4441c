// Package worker implements the browser worker pool and its dispatch loops.
package worker

import (
	"fmt"
	"sync"
)

// Status is a worker lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusError   Status = "error"
	StatusStopped Status = "stopped"
)

// transitions is the fixed lifecycle table. Self-transitions are handled
// separately as idempotent no-ops; anything absent here is a programming
// error. A worker in error or stopped state cannot go straight to busy —
// it must pass through idle (a successful reconnect) first.
var transitions = map[Status]map[Status]bool{
	StatusIdle:    {StatusBusy: true, StatusError: true, StatusStopped: true},
	StatusBusy:    {StatusIdle: true, StatusError: true, StatusStopped: true},
	StatusError:   {StatusIdle: true, StatusStopped: true},
	StatusStopped: {StatusIdle: true, StatusError: true},
}

// StatusManager guards a worker's lifecycle state. Initial state: stopped.
type StatusManager struct {
	mu     sync.Mutex
	status Status
}

// NewStatusManager creates a manager in the stopped state.
func NewStatusManager() *StatusManager {
	return &StatusManager{status: StatusStopped}
}

// Transition moves to the target state. Self-transitions are no-ops; an
// illegal transition returns an error that callers must treat as a fault.
func (m *StatusManager) Transition(to Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == to {
		return nil
	}
	if !transitions[m.status][to] {
		return fmt.Errorf("illegal worker status transition %s → %s", m.status, to)
	}
	m.status = to
	return nil
}

// Status returns the current state.
func (m *StatusManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// CanProcess reports whether the worker may take a new task.
func (m *StatusManager) CanProcess() bool {
	return m.Status() == StatusIdle
}

// Healthy reports whether the worker participates in dispatch.
func (m *StatusManager) Healthy() bool {
	s := m.Status()
	return s == StatusIdle || s == StatusBusy
}
