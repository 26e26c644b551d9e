// Package agent implements agent records and the worker-session
// supervisor: spawning, addressing, and bootstrap-prompt delivery for
// terminal-multiplexer-backed workers.
package agent

import (
	"errors"
	"time"
)

// Status is an agent's lifecycle state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
)

// Agent is the identity of a worker.
type Agent struct {
	ID               string     `json:"id"`
	Token            string     `json:"-"` // never serialized; see auth.Fingerprint for display
	Capabilities     []string   `json:"capabilities"`
	Status           Status     `json:"status"`
	CurrentTask      *string    `json:"current_task,omitempty"`
	WorkingDirectory string     `json:"working_directory"`
	Color            int        `json:"color"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	TerminatedAt     *time.Time `json:"terminated_at,omitempty"`
	Background       bool       `json:"background"`
}

var (
	// ErrNotFound is returned when a referenced agent does not exist.
	ErrNotFound = errors.New("not_found")
	// ErrConflict is returned when creation/termination would violate
	// an invariant (duplicate id, empty task_ids for a non-background
	// agent, etc).
	ErrConflict = errors.New("conflict")
	// ErrBadRequest is returned for schema/argument problems.
	ErrBadRequest = errors.New("bad_request")
)

// colorPaletteSize bounds the round-robin color assignment.
const colorPaletteSize = 16

func colorForOrdinal(n int) int {
	return n % colorPaletteSize
}
