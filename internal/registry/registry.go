// Package registry enforces path-scoped write protections. Folder locks are
// authoritative; recursive folder locks additionally materialize inherited
// file entries so the hot-path lookup is a map hit rather than a tree walk.
package registry

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/weft-dev/weft/internal/models"
)

// LockStore persists lock records keyed by owning context so protections
// survive a restart. Implemented by the sqlite store.
type LockStore interface {
	SaveLock(lock *models.Lock) error
	DeleteLock(id string) error
	LoadLocks() ([]models.Lock, error)
}

// Walker enumerates the currently-known descendant files of a folder, used to
// materialize inherited entries when a recursive folder lock is created.
type Walker interface {
	Descendants(folder string) ([]string, error)
}

// Registry is the in-memory lock table with write-through persistence.
// Reads may be concurrent; every mutation holds the write lock.
type Registry struct {
	mu      sync.RWMutex
	files   map[string]*models.Lock // exact-path entries, inherited included
	folders map[string]*models.Lock
	store   LockStore // optional
	walker  Walker    // optional
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore enables durable persistence of lock records.
func WithStore(s LockStore) Option {
	return func(r *Registry) { r.store = s }
}

// WithWalker enables inherited-entry materialization for existing files.
func WithWalker(w Walker) Option {
	return func(r *Registry) { r.walker = w }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		files:   make(map[string]*models.Lock),
		folders: make(map[string]*models.Lock),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Restore loads persisted locks into memory. Call once at startup.
func (r *Registry) Restore() error {
	if r.store == nil {
		return nil
	}
	locks, err := r.store.LoadLocks()
	if err != nil {
		return fmt.Errorf("load locks: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range locks {
		l := locks[i]
		if l.ScopeKind == models.ScopeFolder {
			r.folders[l.Scope] = &l
		} else {
			r.files[l.Scope] = &l
		}
	}
	return nil
}

// Lock protects a path scope. For a recursive folder lock, inherited file
// entries are materialized for every currently-known descendant.
func (r *Registry) Lock(scope string, kind models.LockScopeKind, mode models.LockMode, contextID string, recursive bool) (*models.Lock, error) {
	scope = clean(scope)
	lock := &models.Lock{
		ID:             uuid.New().String(),
		Scope:          scope,
		ScopeKind:      kind,
		Mode:           mode,
		OwnerContextID: contextID,
		Recursive:      recursive,
		CreatedAt:      time.Now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == models.ScopeFolder {
		if prev := r.folders[scope]; prev != nil {
			r.dropInheritedLocked(prev.ID)
			if r.store != nil {
				if err := r.store.DeleteLock(prev.ID); err != nil {
					return nil, fmt.Errorf("replace lock: %w", err)
				}
			}
		}
		r.folders[scope] = lock
		if recursive && r.walker != nil {
			descendants, err := r.walker.Descendants(scope)
			if err != nil {
				return nil, fmt.Errorf("enumerate %s: %w", scope, err)
			}
			for _, p := range descendants {
				r.inheritLocked(lock, clean(p))
			}
		}
	} else {
		// A fresh explicit file lock supersedes any inherited copy.
		r.files[scope] = lock
	}

	if r.store != nil {
		if err := r.store.SaveLock(lock); err != nil {
			return nil, fmt.Errorf("persist lock: %w", err)
		}
	}
	return lock, nil
}

// Unlock removes the lock on a scope owned by the given context, along with
// any inherited entries a folder lock produced. Unlocking a file that is only
// covered by an ancestor folder lock removes the file entry alone; the folder
// rule stays in force.
func (r *Registry) Unlock(scope string, contextID string) error {
	scope = clean(scope)

	r.mu.Lock()
	defer r.mu.Unlock()

	if lock, ok := r.folders[scope]; ok && lock.AppliesTo(contextID) {
		delete(r.folders, scope)
		r.dropInheritedLocked(lock.ID)
		if r.store != nil {
			if err := r.store.DeleteLock(lock.ID); err != nil {
				return fmt.Errorf("remove lock: %w", err)
			}
		}
		return nil
	}
	if lock, ok := r.files[scope]; ok && lock.AppliesTo(contextID) {
		delete(r.files, scope)
		if r.store != nil {
			if err := r.store.DeleteLock(lock.ID); err != nil {
				return fmt.Errorf("remove lock: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("no lock on %s for this context", scope)
}

// IsLocked reports whether a write to path is forbidden for the caller.
func (r *Registry) IsLocked(p string, contextID string) bool {
	_, locked := r.Check(p, contextID)
	return locked
}

// Check resolves the effective lock for a path: the exact file entry wins
// over any ancestor folder entry, and the innermost folder entry wins among
// ancestors. A match counts only if its owner is global or the caller.
func (r *Registry) Check(p string, contextID string) (*models.Lock, bool) {
	p = clean(p)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if lock, ok := r.files[p]; ok && lock.AppliesTo(contextID) {
		return lock, true
	}
	for dir := parent(p); dir != ""; dir = parent(dir) {
		if lock, ok := r.folders[dir]; ok && lock.AppliesTo(contextID) {
			if dir == parent(p) || lock.Recursive {
				return lock, true
			}
		}
	}
	return nil, false
}

// NotifyCreated re-propagates recursive folder locks onto a newly created
// file so later lookups stay O(1).
func (r *Registry) NotifyCreated(p string) {
	p = clean(p)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[p]; ok {
		return
	}
	for dir := parent(p); dir != ""; dir = parent(dir) {
		lock, ok := r.folders[dir]
		if !ok {
			continue
		}
		if dir != parent(p) && !lock.Recursive {
			continue
		}
		r.inheritLocked(lock, p)
		return
	}
}

// List returns all locks visible to a context, direct entries first, sorted
// by scope for stable output. contextID == "" lists everything.
func (r *Registry) List(contextID string) []models.Lock {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var locks []models.Lock
	for _, l := range r.folders {
		if contextID == "" || l.AppliesTo(contextID) {
			locks = append(locks, *l)
		}
	}
	for _, l := range r.files {
		if contextID == "" || l.AppliesTo(contextID) {
			locks = append(locks, *l)
		}
	}
	sort.Slice(locks, func(i, j int) bool {
		if locks[i].Inherited != locks[j].Inherited {
			return !locks[i].Inherited
		}
		return locks[i].Scope < locks[j].Scope
	})
	return locks
}

// inheritLocked materializes an inherited file entry under parentLock.
// Callers hold the write lock. An explicit file lock is never overwritten.
func (r *Registry) inheritLocked(parentLock *models.Lock, p string) {
	if existing, ok := r.files[p]; ok && !existing.Inherited {
		return
	}
	inherited := &models.Lock{
		ID:             uuid.New().String(),
		Scope:          p,
		ScopeKind:      models.ScopeFile,
		Mode:           parentLock.Mode,
		OwnerContextID: parentLock.OwnerContextID,
		Inherited:      true,
		ParentID:       parentLock.ID,
		CreatedAt:      time.Now().UTC(),
	}
	r.files[p] = inherited
}

// dropInheritedLocked removes every inherited entry produced by a folder
// lock. Callers hold the write lock.
func (r *Registry) dropInheritedLocked(parentID string) {
	for p, l := range r.files {
		if l.Inherited && l.ParentID == parentID {
			delete(r.files, p)
		}
	}
}

func clean(p string) string {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func parent(p string) string {
	dir := path.Dir(p)
	if dir == p || dir == "." {
		return ""
	}
	return dir
}
