package registry

import (
	"testing"

	"github.com/weft-dev/weft/internal/models"
)

// mockWalker returns a fixed descendant list.
type mockWalker struct {
	paths map[string][]string
}

func (m *mockWalker) Descendants(folder string) ([]string, error) {
	return m.paths[folder], nil
}

func TestFileLockBlocksWrite(t *testing.T) {
	r := New()
	if _, err := r.Lock("/a/b.txt", models.ScopeFile, models.LockFull, "", false); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	if !r.IsLocked("/a/b.txt", "ctx-1") {
		t.Error("Expected /a/b.txt to be locked")
	}
	if r.IsLocked("/a/c.txt", "ctx-1") {
		t.Error("Sibling path should not be locked")
	}
}

func TestContextScopedLock(t *testing.T) {
	r := New()
	if _, err := r.Lock("/a/b.txt", models.ScopeFile, models.LockFull, "ctx-owner", false); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	if !r.IsLocked("/a/b.txt", "ctx-owner") {
		t.Error("Lock should apply to its owning context")
	}
	if r.IsLocked("/a/b.txt", "ctx-other") {
		t.Error("Context-scoped lock leaked to another context")
	}
}

func TestRecursiveFolderLockCoversDescendants(t *testing.T) {
	w := &mockWalker{paths: map[string][]string{
		"/locked": {"/locked/f.txt", "/locked/sub/deep.txt"},
	}}
	r := New(WithWalker(w))

	if _, err := r.Lock("/locked", models.ScopeFolder, models.LockNoDelete, "", true); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	for _, p := range []string{"/locked/f.txt", "/locked/sub/deep.txt", "/locked/new.txt"} {
		if !r.IsLocked(p, "ctx-1") {
			t.Errorf("Expected %s to be locked", p)
		}
	}

	// Files created after the lock are re-propagated.
	r.NotifyCreated("/locked/later.txt")
	lock, ok := r.Check("/locked/later.txt", "ctx-1")
	if !ok {
		t.Fatal("Expected newly created file to be locked")
	}
	if !lock.Inherited && lock.ScopeKind != models.ScopeFolder {
		t.Errorf("Unexpected effective lock: %+v", lock)
	}
}

func TestUnlockRoundTrip(t *testing.T) {
	w := &mockWalker{paths: map[string][]string{
		"/proj": {"/proj/a.go", "/proj/b.go"},
	}}
	r := New(WithWalker(w))

	if _, err := r.Lock("/proj", models.ScopeFolder, models.LockFull, "", true); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if !r.IsLocked("/proj/a.go", "ctx") {
		t.Fatal("Expected /proj/a.go locked after folder lock")
	}

	if err := r.Unlock("/proj", ""); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	for _, p := range []string{"/proj/a.go", "/proj/b.go", "/proj/new.go"} {
		if r.IsLocked(p, "ctx") {
			t.Errorf("Expected %s unlocked after folder unlock", p)
		}
	}
}

func TestInnermostLockWins(t *testing.T) {
	w := &mockWalker{paths: map[string][]string{
		"/a": {"/a/b.txt"},
	}}
	r := New(WithWalker(w))

	if _, err := r.Lock("/a", models.ScopeFolder, models.LockFull, "", true); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	// Unlocking the file removes only the materialized file entry; the
	// authoritative folder rule still covers the path.
	if err := r.Unlock("/a/b.txt", ""); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if !r.IsLocked("/a/b.txt", "ctx") {
		t.Error("Folder rule should still cover /a/b.txt after file unlock")
	}

	lock, ok := r.Check("/a/b.txt", "ctx")
	if !ok || lock.ScopeKind != models.ScopeFolder {
		t.Errorf("Expected the folder entry to resolve, got %+v", lock)
	}
}

func TestExplicitFileEntryTakesPrecedence(t *testing.T) {
	r := New()
	if _, err := r.Lock("/a", models.ScopeFolder, models.LockNoDelete, "", true); err != nil {
		t.Fatalf("Lock folder failed: %v", err)
	}
	if _, err := r.Lock("/a/b.txt", models.ScopeFile, models.LockReadOnly, "", false); err != nil {
		t.Fatalf("Lock file failed: %v", err)
	}

	lock, ok := r.Check("/a/b.txt", "ctx")
	if !ok {
		t.Fatal("Expected a lock")
	}
	if lock.Mode != models.LockReadOnly || lock.ScopeKind != models.ScopeFile {
		t.Errorf("Exact file entry should win over the ancestor folder: %+v", lock)
	}
}

func TestNonRecursiveFolderLockCoversDirectChildrenOnly(t *testing.T) {
	r := New()
	if _, err := r.Lock("/dir", models.ScopeFolder, models.LockFull, "", false); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	if !r.IsLocked("/dir/f.txt", "ctx") {
		t.Error("Direct child should be covered")
	}
	if r.IsLocked("/dir/sub/f.txt", "ctx") {
		t.Error("Grandchild should not be covered by a non-recursive lock")
	}
}

func TestUnlockRequiresOwnership(t *testing.T) {
	r := New()
	if _, err := r.Lock("/f.txt", models.ScopeFile, models.LockFull, "ctx-owner", false); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if err := r.Unlock("/f.txt", "ctx-other"); err == nil {
		t.Error("Unlock by a non-owning context should fail")
	}
	if !r.IsLocked("/f.txt", "ctx-owner") {
		t.Error("Lock should survive a rejected unlock")
	}
}

// memStore is an in-memory LockStore for restore tests.
type memStore struct {
	locks map[string]models.Lock
}

func newMemStore() *memStore { return &memStore{locks: make(map[string]models.Lock)} }

func (m *memStore) SaveLock(l *models.Lock) error { m.locks[l.ID] = *l; return nil }
func (m *memStore) DeleteLock(id string) error    { delete(m.locks, id); return nil }
func (m *memStore) LoadLocks() ([]models.Lock, error) {
	var out []models.Lock
	for _, l := range m.locks {
		out = append(out, l)
	}
	return out, nil
}

func TestLocksSurviveRestore(t *testing.T) {
	st := newMemStore()

	r1 := New(WithStore(st))
	if _, err := r1.Lock("/keep", models.ScopeFolder, models.LockFull, "ctx", true); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	r2 := New(WithStore(st))
	if err := r2.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !r2.IsLocked("/keep/file.txt", "ctx") {
		t.Error("Folder lock did not survive restore")
	}

	if err := r2.Unlock("/keep", "ctx"); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if len(st.locks) != 0 {
		t.Errorf("Expected store emptied after unlock, got %d records", len(st.locks))
	}
}

func TestListIsStable(t *testing.T) {
	r := New()
	r.Lock("/b", models.ScopeFolder, models.LockFull, "", false)
	r.Lock("/a/x.txt", models.ScopeFile, models.LockReadOnly, "", false)

	first := r.List("")
	second := r.List("")
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("Expected 2 locks, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Scope != second[i].Scope {
			t.Errorf("List order unstable at %d: %s vs %s", i, first[i].Scope, second[i].Scope)
		}
	}
}
