// Package models defines the core domain types for Weft.
package models

import (
	"errors"
	"fmt"
	"time"
)

// ActionKind discriminates the parsed action variants.
type ActionKind string

const (
	ActionFile        ActionKind = "file"
	ActionShell       ActionKind = "shell"
	ActionStartServer ActionKind = "start"
)

// Action is a single typed instruction recovered from the generator stream.
// Exactly the fields required by its kind are set; an Action is immutable
// once parsed and owned by the queue from submission to completion.
type Action struct {
	ID      string     `json:"id"`
	Kind    ActionKind `json:"kind"`
	Seq     int        `json:"seq"` // arrival order within a turn
	Path    string     `json:"path,omitempty"`
	Content string     `json:"content,omitempty"`
	Command string     `json:"command,omitempty"`
}

// Summary returns a short human-readable description for logs and events.
func (a Action) Summary() string {
	switch a.Kind {
	case ActionFile:
		return fmt.Sprintf("file %s (%d bytes)", a.Path, len(a.Content))
	case ActionShell:
		return "shell " + a.Command
	case ActionStartServer:
		return "start " + a.Command
	}
	return string(a.Kind)
}

// LockMode controls which mutations a lock forbids.
type LockMode string

const (
	LockReadOnly LockMode = "read-only"
	LockNoDelete LockMode = "no-delete"
	LockFull     LockMode = "full"
)

// LockScopeKind distinguishes file locks from folder locks.
type LockScopeKind string

const (
	ScopeFile   LockScopeKind = "file"
	ScopeFolder LockScopeKind = "folder"
)

// Lock protects a path scope from mutation. OwnerContextID == "" means the
// lock applies across all execution contexts. Inherited entries are
// materialized copies of a recursive folder lock; ParentID names the folder
// lock that produced them.
type Lock struct {
	ID             string        `json:"id"`
	Scope          string        `json:"scope"` // cleaned path
	ScopeKind      LockScopeKind `json:"scope_kind"`
	Mode           LockMode      `json:"mode"`
	OwnerContextID string        `json:"owner_context_id,omitempty"`
	Recursive      bool          `json:"recursive"`
	Inherited      bool          `json:"inherited"`
	ParentID       string        `json:"parent_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// AppliesTo reports whether the lock is in force for the given caller context.
func (l *Lock) AppliesTo(contextID string) bool {
	return l.OwnerContextID == "" || l.OwnerContextID == contextID
}

// ExecutionContext is the isolation boundary for action ordering. Actions
// within one context complete in submission order; contexts are independent.
type ExecutionContext struct {
	ID        string    `json:"id"`
	Workspace string    `json:"workspace"`
	CreatedAt time.Time `json:"created_at"`
}

// ActionStatus is the lifecycle state reported on the event interface.
type ActionStatus string

const (
	StatusStarted   ActionStatus = "started"
	StatusCompleted ActionStatus = "completed"
	StatusFailed    ActionStatus = "failed"
	StatusBlocked   ActionStatus = "blocked"
)

// ActionEvent is published once per lifecycle transition of an Action.
type ActionEvent struct {
	ID        string       `json:"id"`
	ContextID string       `json:"context_id"`
	ActionID  string       `json:"action_id"`
	Kind      ActionKind   `json:"kind"`
	Summary   string       `json:"summary"`
	Status    ActionStatus `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Result is the terminal outcome of one executed Action.
type Result struct {
	Action   Action
	Status   ActionStatus
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// ScoredFile is a corpus file with its selection score. Transient; recomputed
// on every selection call and never persisted.
type ScoredFile struct {
	Path      string
	Content   string
	Score     float64
	Signals   ScoreSignals
	Truncated bool
}

// ScoreSignals breaks a score into its weighted components.
type ScoreSignals struct {
	Keyword    float64
	Recency    float64
	TypeMatch  float64
	Dependency float64
}

// Message is one prior conversation turn, supplied by the caller.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ParseWarning reports a malformed or unrecognized marker. Non-fatal: the
// offending region is passed through as plain content.
type ParseWarning struct {
	Offset int
	Reason string
}

func (w ParseWarning) Error() string {
	return fmt.Sprintf("parse warning at offset %d: %s", w.Offset, w.Reason)
}

// Error taxonomy. Lock violations and execution failures are isolated per
// action; only stream failures abort the remainder of a turn.
var (
	ErrLockViolation = errors.New("path is protected by a lock")
	ErrTimeout       = errors.New("action deadline exceeded")
	ErrStreamFailed  = errors.New("generator stream failed")
)

// ExecutionFailure wraps a sandbox error with the captured process output.
type ExecutionFailure struct {
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *ExecutionFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("execution failed (exit %d): %v", e.ExitCode, e.Cause)
	}
	return fmt.Sprintf("execution failed (exit %d)", e.ExitCode)
}

func (e *ExecutionFailure) Unwrap() error { return e.Cause }
