package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/weft-dev/weft/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestLockPersistence(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	lock := &models.Lock{
		ID:             uuid.New().String(),
		Scope:          "/proj/src",
		ScopeKind:      models.ScopeFolder,
		Mode:           models.LockNoDelete,
		OwnerContextID: "ctx-1",
		Recursive:      true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.SaveLock(lock); err != nil {
		t.Fatalf("SaveLock failed: %v", err)
	}

	locks, err := s.LoadLocks()
	if err != nil {
		t.Fatalf("LoadLocks failed: %v", err)
	}
	if len(locks) != 1 {
		t.Fatalf("Expected 1 lock, got %d", len(locks))
	}
	got := locks[0]
	if got.Scope != "/proj/src" || got.Mode != models.LockNoDelete || !got.Recursive || got.OwnerContextID != "ctx-1" {
		t.Errorf("Lock round-trip mismatch: %+v", got)
	}

	if err := s.DeleteLock(lock.ID); err != nil {
		t.Fatalf("DeleteLock failed: %v", err)
	}
	locks, _ = s.LoadLocks()
	if len(locks) != 0 {
		t.Errorf("Expected 0 locks after delete, got %d", len(locks))
	}
}

func TestInheritedLocksAreNotPersisted(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	inherited := &models.Lock{
		ID:        uuid.New().String(),
		Scope:     "/proj/src/a.go",
		ScopeKind: models.ScopeFile,
		Mode:      models.LockFull,
		Inherited: true,
		ParentID:  "parent",
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveLock(inherited); err != nil {
		t.Fatalf("SaveLock failed: %v", err)
	}
	locks, _ := s.LoadLocks()
	if len(locks) != 0 {
		t.Errorf("Inherited entries must not be persisted, got %d", len(locks))
	}
}

func TestDeleteLocksForContext(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	mk := func(owner string) {
		s.SaveLock(&models.Lock{
			ID: uuid.New().String(), Scope: "/x-" + owner, ScopeKind: models.ScopeFile,
			Mode: models.LockFull, OwnerContextID: owner, CreatedAt: time.Now().UTC(),
		})
	}
	mk("ctx-a")
	mk("ctx-b")
	s.SaveLock(&models.Lock{
		ID: uuid.New().String(), Scope: "/global", ScopeKind: models.ScopeFile,
		Mode: models.LockFull, CreatedAt: time.Now().UTC(),
	})

	if err := s.DeleteLocksForContext("ctx-a"); err != nil {
		t.Fatalf("DeleteLocksForContext failed: %v", err)
	}
	locks, _ := s.LoadLocks()
	if len(locks) != 2 {
		t.Fatalf("Expected 2 remaining locks, got %d", len(locks))
	}
	for _, l := range locks {
		if l.OwnerContextID == "ctx-a" {
			t.Errorf("ctx-a lock survived: %+v", l)
		}
	}

	if err := s.DeleteLocksForContext(""); err == nil {
		t.Error("Empty context id must be rejected, global locks are not droppable this way")
	}
}

func TestContextRoundTrip(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ec, err := s.CreateContext("/work/demo")
	if err != nil {
		t.Fatalf("CreateContext failed: %v", err)
	}

	got, err := s.GetContext(ec.ID)
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	if got == nil || got.Workspace != "/work/demo" {
		t.Errorf("Context mismatch: %+v", got)
	}

	missing, err := s.GetContext("nope")
	if err != nil || missing != nil {
		t.Errorf("Expected nil for missing context, got (%+v, %v)", missing, err)
	}

	list, err := s.ListContexts()
	if err != nil || len(list) != 1 {
		t.Errorf("ListContexts = (%d, %v), want 1", len(list), err)
	}
}

func TestEventLog(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	statuses := []models.ActionStatus{models.StatusStarted, models.StatusCompleted, models.StatusFailed}
	for i, status := range statuses {
		err := s.RecordEvent(&models.ActionEvent{
			ContextID: "ctx-1",
			ActionID:  "act-1",
			Kind:      models.ActionShell,
			Summary:   "shell go test",
			Status:    status,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordEvent failed: %v", err)
		}
	}
	s.RecordEvent(&models.ActionEvent{
		ContextID: "ctx-2", ActionID: "act-2", Kind: models.ActionFile,
		Summary: "file a.txt", Status: models.StatusBlocked,
		Timestamp: base.Add(time.Minute),
	})

	events, err := s.ListEvents("ctx-1", 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events for ctx-1, got %d", len(events))
	}
	// Newest first.
	if events[0].Status != models.StatusFailed {
		t.Errorf("Expected newest event first, got %s", events[0].Status)
	}

	all, err := s.ListEvents("", 2)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Limit not applied: got %d", len(all))
	}
}
