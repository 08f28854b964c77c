package request

import (
	"errors"
	"testing"
)

func TestStore_AddAndGet(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	r := &Request{Type: TypeAudiobook, Title: "Project Hail Mary", Author: "Andy Weir"}
	if err := store.Add(r); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if r.ID == 0 {
		t.Fatal("ID should be set after Add")
	}
	if r.Status != StatusPending {
		t.Errorf("Status = %q, want pending", r.Status)
	}

	got, err := store.Get(r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Project Hail Mary" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.Progress != 0 {
		t.Errorf("Progress = %d, want 0", got.Progress)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	_, err := store.Get(42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ParentChild(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	parent := &Request{Type: TypeAudiobook, Title: "Dune"}
	if err := store.Add(parent); err != nil {
		t.Fatalf("Add parent: %v", err)
	}

	child := &Request{Type: TypeEbook, Title: "Dune", ParentRequestID: &parent.ID}
	if err := store.Add(child); err != nil {
		t.Fatalf("Add child: %v", err)
	}

	children, err := store.List(Filter{Parent: &parent.ID})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(children) != 1 || children[0].ID != child.ID {
		t.Fatalf("expected one child request, got %d", len(children))
	}
}

func TestStore_Transition(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	r := &Request{Type: TypeAudiobook, Title: "Dune"}
	_ = store.Add(r)

	if err := store.Transition(r, StatusDownloading); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if r.Status != StatusDownloading {
		t.Errorf("Status = %q, want downloading", r.Status)
	}

	got, _ := store.Get(r.ID)
	if got.Status != StatusDownloading {
		t.Errorf("persisted Status = %q, want downloading", got.Status)
	}
}

func TestStore_Transition_Invalid(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	r := &Request{Type: TypeAudiobook, Title: "Dune"}
	_ = store.Add(r)

	err := store.Transition(r, StatusCompleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStore_Fail_SetsMessage(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	r := &Request{Type: TypeEbook, Title: "Dune"}
	_ = store.Add(r)

	if err := store.Fail(r.ID, "all mirrors exhausted"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	got, _ := store.Get(r.ID)
	if got.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage != "all mirrors exhausted" {
		t.Errorf("ErrorMessage = %v", got.ErrorMessage)
	}
}

func TestStore_SetProgress_Clamped(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	r := &Request{Type: TypeAudiobook, Title: "Dune"}
	_ = store.Add(r)

	if err := store.SetProgress(r.ID, 150); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	got, _ := store.Get(r.ID)
	if got.Progress != 100 {
		t.Errorf("Progress = %d, want 100", got.Progress)
	}
}

func TestStore_SoftDelete(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	r := &Request{Type: TypeAudiobook, Title: "Dune"}
	_ = store.Add(r)

	if err := store.SoftDelete(r.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	if _, err := store.Get(r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after soft delete, got %v", err)
	}

	// Row must still exist for history.
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM requests WHERE id = ?", r.ID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Error("soft delete must not remove the row")
	}
}

func TestStore_ListStuck_Limit(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)

	for i := 0; i < 5; i++ {
		r := &Request{Type: TypeAudiobook, Title: "Book", Status: StatusAwaitingImport}
		_ = store.Add(r)
	}

	stuck, err := store.ListStuck(StatusAwaitingImport, 3)
	if err != nil {
		t.Fatalf("ListStuck: %v", err)
	}
	if len(stuck) != 3 {
		t.Errorf("got %d stuck requests, want 3", len(stuck))
	}
}

func TestStatus_Transitions(t *testing.T) {
	if !StatusPending.CanTransitionTo(StatusDownloading) {
		t.Error("pending -> downloading should be valid")
	}
	if !StatusDownloading.CanTransitionTo(StatusAwaitingImport) {
		t.Error("downloading -> awaiting_import should be valid")
	}
	if StatusCompleted.CanTransitionTo(StatusFailed) {
		t.Error("completed is terminal")
	}
	if !StatusFailed.CanTransitionTo(StatusSearching) {
		t.Error("failed -> searching (retry) should be valid")
	}
	if !StatusAwaitingImport.IsActive() {
		t.Error("awaiting_import should be active")
	}
	if StatusFailed.IsActive() {
		t.Error("failed should not be active")
	}
}
