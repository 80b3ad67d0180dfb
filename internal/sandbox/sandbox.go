// Package sandbox defines the execution-target interface consumed by the
// queue and engine. The sandbox is an external collaborator: it provides file
// and process primitives and nothing else.
package sandbox

import (
	"context"
	"io/fs"
	"time"
)

// ExecResult holds the outcome of a finished command.
type ExecResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Process is a handle to a long-lived spawned process.
type Process interface {
	// PID returns the OS process id.
	PID() int
	// Stop terminates the process and releases its resources.
	Stop() error
}

// FileInfo describes one corpus file for enumeration.
type FileInfo struct {
	Path    string
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
	IsDir   bool
}

// Sandbox is the execution target. All calls may fail independently of parse
// and queue logic; blocking calls honor ctx cancellation.
type Sandbox interface {
	// Name returns the sandbox identifier.
	Name() string

	// WriteFile creates or replaces a file, creating parent directories.
	WriteFile(ctx context.Context, path string, content []byte) error

	// ReadFile returns a file's content.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// Exec runs a shell command to completion, honoring ctx for timeout and
	// cancellation, and captures stdout/stderr and the exit code.
	Exec(ctx context.Context, command string, timeout time.Duration) (*ExecResult, error)

	// Start launches a long-lived process (a dev server) and returns its
	// handle without waiting for exit.
	Start(ctx context.Context, command string) (Process, error)

	// ReadDir lists the files under dir, recursively.
	ReadDir(ctx context.Context, dir string) ([]FileInfo, error)

	// Stat describes a single path.
	Stat(ctx context.Context, path string) (*FileInfo, error)
}
