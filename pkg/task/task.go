// Package task implements the task graph: CRUD over tasks, parent and
// dependency relationships, and the single-active-phase invariant.
package task

import (
	"errors"
	"time"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusUnassigned Status = "unassigned"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusFailed     Status = "failed"
)

// terminal reports whether a status is a terminal state for the
// phase-completion predicate.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// active reports whether a status counts toward an active phase.
func (s Status) active() bool {
	return s == StatusPending || s == StatusUnassigned || s == StatusInProgress
}

// Priority is a task's urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Note is one append-only log entry on a task.
type Note struct {
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}

// Task is a unit of work.
type Task struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	AssignedTo     *string   `json:"assigned_to,omitempty"`
	CreatedBy      string    `json:"created_by"`
	Status         Status    `json:"status"`
	Priority       Priority  `json:"priority"`
	ParentTask     *string   `json:"parent_task,omitempty"`
	ChildTasks     []string  `json:"child_tasks"`
	DependsOnTasks []string  `json:"depends_on_tasks"`
	Notes          []Note    `json:"notes"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsRoot reports whether t is a phase (no parent).
func (t *Task) IsRoot() bool { return t.ParentTask == nil }

var (
	// ErrNotFound is returned when a referenced task does not exist.
	ErrNotFound = errors.New("not_found")
	// ErrConflict is returned when an operation would violate an
	// invariant (phase gate, dependent exists, etc).
	ErrConflict = errors.New("conflict")
	// ErrBadRequest is returned for schema/argument problems.
	ErrBadRequest = errors.New("bad_request")
	// ErrDependencyMissing is returned when a referenced dependency
	// task does not exist.
	ErrDependencyMissing = errors.New("dependency_missing")
	// ErrUnauthorized is returned when caller lacks permission for the
	// requested operation on this task.
	ErrUnauthorized = errors.New("unauthorized")
)

// PhaseConflict carries the candidate-parent suggestions returned
// alongside ErrConflict when a new root task is refused while a phase
// is already active.
type PhaseConflict struct {
	ActivePhaseID    string
	CandidateParents []string
}

func (e *PhaseConflict) Error() string {
	return "conflict: an active phase already exists: " + e.ActivePhaseID
}

func (e *PhaseConflict) Unwrap() error { return ErrConflict }
