// Package controlplane provides the HTTP API and service layer for Weft.
package controlplane

import (
	"context"
	"fmt"

	"github.com/weft-dev/weft/internal/models"
	"github.com/weft-dev/weft/internal/queue"
	"github.com/weft-dev/weft/internal/registry"
	"github.com/weft-dev/weft/internal/store"
)

// Service provides the control plane business logic. The lock registry is the
// source of truth for protections; the store serves contexts and the event
// log; the queue executes actions submitted over the API.
type Service struct {
	registry *registry.Registry
	store    *store.Store
	queue    *queue.Queue
}

// NewService creates a new control plane service.
func NewService(reg *registry.Registry, st *store.Store, q *queue.Queue) *Service {
	return &Service{registry: reg, store: st, queue: q}
}

// --- Lock Operations ---

// AcquireLock protects a path scope. contextID == "" makes the lock global.
func (s *Service) AcquireLock(scope string, kind models.LockScopeKind, mode models.LockMode, contextID string, recursive bool) (*models.Lock, error) {
	if scope == "" {
		return nil, ErrInvalidScope
	}
	switch kind {
	case models.ScopeFile, models.ScopeFolder:
	case "":
		kind = models.ScopeFile
	default:
		return nil, ErrInvalidScope
	}
	switch mode {
	case models.LockReadOnly, models.LockNoDelete, models.LockFull:
	case "":
		mode = models.LockFull
	default:
		return nil, ErrInvalidMode
	}
	return s.registry.Lock(scope, kind, mode, contextID, recursive)
}

// ReleaseLock removes a lock on a scope, checking ownership.
func (s *Service) ReleaseLock(scope, contextID string) error {
	if scope == "" {
		return ErrInvalidScope
	}
	if err := s.registry.Unlock(scope, contextID); err != nil {
		return ErrLockNotHeld
	}
	return nil
}

// ListLocks returns the locks visible to a context; "" lists everything.
func (s *Service) ListLocks(contextID string) []models.Lock {
	return s.registry.List(contextID)
}

// --- Context Operations ---

// CreateContext registers a new execution context.
func (s *Service) CreateContext(workspace string) (*models.ExecutionContext, error) {
	return s.store.CreateContext(workspace)
}

// GetContext retrieves an execution context by ID.
func (s *Service) GetContext(id string) (*models.ExecutionContext, error) {
	ec, err := s.store.GetContext(id)
	if err != nil {
		return nil, err
	}
	if ec == nil {
		return nil, ErrNotFound
	}
	return ec, nil
}

// ListContexts returns all execution contexts, newest first.
func (s *Service) ListContexts() ([]models.ExecutionContext, error) {
	return s.store.ListContexts()
}

// --- Action Operations ---

// SubmitAction runs one action through the context's serialized worker and
// waits for its result. The context must exist; the wait is bounded by ctx.
func (s *Service) SubmitAction(ctx context.Context, contextID string, action models.Action) (*models.Result, error) {
	switch action.Kind {
	case models.ActionFile:
		if action.Path == "" {
			return nil, fmt.Errorf("%w: file action requires a path", ErrInvalidAction)
		}
	case models.ActionShell, models.ActionStartServer:
		if action.Command == "" {
			return nil, fmt.Errorf("%w: %s action requires a command", ErrInvalidAction, action.Kind)
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, action.Kind)
	}

	ec, err := s.GetContext(contextID)
	if err != nil {
		return nil, err
	}
	pending, err := s.queue.Submit(*ec, action)
	if err != nil {
		return nil, err
	}
	result, err := pending.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// --- Event Operations ---

// ListEvents returns recent action events, optionally scoped to one context.
func (s *Service) ListEvents(contextID string, limit int) ([]models.ActionEvent, error) {
	return s.store.ListEvents(contextID, limit)
}
