package store

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "mirror.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_PutGetDelete(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	fields := map[string]any{"ownerId": "u1", "title": "Hello"}
	if err := s.Put(ctx, "users/u1/pages/p1", fields); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, ok, err := s.Get(ctx, "users/u1/pages/p1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false after Put")
	}
	if got["ownerId"] != "u1" || got["title"] != "Hello" {
		t.Errorf("Get() = %v", got)
	}

	if err := s.Delete(ctx, "users/u1/pages/p1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "users/u1/pages/p1"); ok {
		t.Error("record still present after Delete")
	}

	// Redelivered delete is a no-op.
	if err := s.Delete(ctx, "users/u1/pages/p1"); err != nil {
		t.Errorf("Delete() of absent path error = %v, want nil", err)
	}
}

func TestSQLiteStore_PutOverwrites(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, "users/u1/pages/p1", map[string]any{"title": "v1"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := s.Put(ctx, "users/u1/pages/p1", map[string]any{"title": "v2", "extra": true}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, _, _ := s.Get(ctx, "users/u1/pages/p1")
	if got["title"] != "v2" {
		t.Errorf("title = %v, want v2", got["title"])
	}
	if got["extra"] != true {
		t.Errorf("extra = %v, want true", got["extra"])
	}
}

func TestSQLiteStore_List(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	s.Put(ctx, "users/u1", map[string]any{"uid": "u1"})
	s.Put(ctx, "users/u1/pages/p1", map[string]any{"title": "one"})
	s.Put(ctx, "users/u1/pages/p2", map[string]any{"title": "two"})
	s.Put(ctx, "users/u2/pages/p3", map[string]any{"title": "three"})

	got, err := s.List(ctx, "users/u1/pages/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() returned %d records, want 2: %v", len(got), got)
	}
	if got["users/u1/pages/p1"]["title"] != "one" {
		t.Errorf("p1 = %v", got["users/u1/pages/p1"])
	}
}

func TestSQLiteStore_ListEscapesLikeMetacharacters(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	// A prefix containing % or _ must match literally, not as a wildcard.
	s.Put(ctx, "users/u_1/pages/p1", map[string]any{"title": "underscore owner"})
	s.Put(ctx, "users/ux1/pages/p2", map[string]any{"title": "other owner"})

	got, err := s.List(ctx, "users/u_1/pages/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("List() returned %d records, want 1: %v", len(got), got)
	}
	if _, ok := got["users/u_1/pages/p1"]; !ok {
		t.Errorf("expected literal match for u_1, got %v", got)
	}
}

func TestSQLiteStore_ValidateSetup(t *testing.T) {
	s := newTestSQLiteStore(t)

	if err := s.ValidateSetup(context.Background()); err != nil {
		t.Errorf("ValidateSetup() error = %v", err)
	}
}
