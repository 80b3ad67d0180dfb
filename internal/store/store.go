// Package store provides SQLite-backed persistence for Weft: lock records
// keyed by owning context, execution contexts, and the action event log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/weft-dev/weft/internal/models"
	_ "modernc.org/sqlite"
)

// Store provides access to the Weft SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS locks (
		id TEXT PRIMARY KEY,
		scope TEXT NOT NULL,
		scope_kind TEXT NOT NULL,
		mode TEXT NOT NULL,
		owner_context TEXT NOT NULL DEFAULT '',
		recursive INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contexts (
		id TEXT PRIMARY KEY,
		workspace TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		context_id TEXT NOT NULL,
		action_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		summary TEXT NOT NULL,
		status TEXT NOT NULL,
		detail TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_locks_scope ON locks(scope);
	CREATE INDEX IF NOT EXISTS idx_locks_owner ON locks(owner_context);
	CREATE INDEX IF NOT EXISTS idx_events_context ON events(context_id);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Lock Operations ---

// SaveLock persists a direct lock record. Inherited entries are an in-memory
// optimization and are rebuilt from folder locks, so they are not stored.
func (s *Store) SaveLock(lock *models.Lock) error {
	if lock.Inherited {
		return nil
	}
	recursive := 0
	if lock.Recursive {
		recursive = 1
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO locks (id, scope, scope_kind, mode, owner_context, recursive, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lock.ID, lock.Scope, lock.ScopeKind, lock.Mode, lock.OwnerContextID, recursive, lock.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert lock: %w", err)
	}
	return nil
}

// DeleteLock removes a lock record by id.
func (s *Store) DeleteLock(id string) error {
	_, err := s.db.Exec(`DELETE FROM locks WHERE id = ?`, id)
	return err
}

// LoadLocks returns every persisted lock record.
func (s *Store) LoadLocks() ([]models.Lock, error) {
	rows, err := s.db.Query(
		`SELECT id, scope, scope_kind, mode, owner_context, recursive, created_at FROM locks ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("query locks: %w", err)
	}
	defer rows.Close()

	var locks []models.Lock
	for rows.Next() {
		var lock models.Lock
		var recursive int
		if err := rows.Scan(&lock.ID, &lock.Scope, &lock.ScopeKind, &lock.Mode, &lock.OwnerContextID, &recursive, &lock.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		lock.Recursive = recursive != 0
		locks = append(locks, lock)
	}
	return locks, rows.Err()
}

// DeleteLocksForContext removes every lock owned by a context, for context
// teardown. Global locks are untouched.
func (s *Store) DeleteLocksForContext(contextID string) error {
	if contextID == "" {
		return fmt.Errorf("context id required")
	}
	_, err := s.db.Exec(`DELETE FROM locks WHERE owner_context = ?`, contextID)
	return err
}

// --- Context Operations ---

// CreateContext inserts a new execution context.
func (s *Store) CreateContext(workspace string) (*models.ExecutionContext, error) {
	ec := &models.ExecutionContext{
		ID:        uuid.New().String(),
		Workspace: workspace,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO contexts (id, workspace, created_at) VALUES (?, ?, ?)`,
		ec.ID, ec.Workspace, ec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert context: %w", err)
	}
	return ec, nil
}

// GetContext retrieves an execution context by ID.
func (s *Store) GetContext(id string) (*models.ExecutionContext, error) {
	ec := &models.ExecutionContext{}
	err := s.db.QueryRow(
		`SELECT id, workspace, created_at FROM contexts WHERE id = ?`, id,
	).Scan(&ec.ID, &ec.Workspace, &ec.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query context: %w", err)
	}
	return ec, nil
}

// ListContexts returns all execution contexts, newest first.
func (s *Store) ListContexts() ([]models.ExecutionContext, error) {
	rows, err := s.db.Query(`SELECT id, workspace, created_at FROM contexts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query contexts: %w", err)
	}
	defer rows.Close()

	var contexts []models.ExecutionContext
	for rows.Next() {
		var ec models.ExecutionContext
		if err := rows.Scan(&ec.ID, &ec.Workspace, &ec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		contexts = append(contexts, ec)
	}
	return contexts, rows.Err()
}

// --- Event Operations ---

// RecordEvent appends an action lifecycle event.
func (s *Store) RecordEvent(ev *models.ActionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO events (id, context_id, action_id, kind, summary, status, detail, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ContextID, ev.ActionID, ev.Kind, ev.Summary, ev.Status, ev.Detail, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEvents returns events newest first, optionally filtered by context.
func (s *Store) ListEvents(contextID string, limit int) ([]models.ActionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, context_id, action_id, kind, summary, status, detail, timestamp FROM events`
	var args []interface{}
	if contextID != "" {
		query += ` WHERE context_id = ?`
		args = append(args, contextID)
	}
	query += ` ORDER BY timestamp DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.ActionEvent
	for rows.Next() {
		var ev models.ActionEvent
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.ContextID, &ev.ActionID, &ev.Kind, &ev.Summary, &ev.Status, &detail, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if detail.Valid {
			ev.Detail = detail.String
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
