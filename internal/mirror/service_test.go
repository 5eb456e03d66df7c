package mirror

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// fakeStore is an in-memory Store with per-path failure injection.
type fakeStore struct {
	records    map[string]map[string]any
	failPut    map[string]error
	failDelete map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:    make(map[string]map[string]any),
		failPut:    make(map[string]error),
		failDelete: make(map[string]error),
	}
}

func (f *fakeStore) Put(_ context.Context, path string, fields map[string]any) error {
	if err := f.failPut[path]; err != nil {
		return err
	}
	f.records[path] = fields
	return nil
}

func (f *fakeStore) Delete(_ context.Context, path string) error {
	if err := f.failDelete[path]; err != nil {
		return err
	}
	delete(f.records, path)
	return nil
}

func (f *fakeStore) Get(_ context.Context, path string) (map[string]any, bool, error) {
	rec, ok := f.records[path]
	return rec, ok, nil
}

func (f *fakeStore) List(_ context.Context, prefix string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)
	for p, rec := range f.records {
		if strings.HasPrefix(p, prefix) {
			out[p] = rec
		}
	}
	return out, nil
}

func (f *fakeStore) ValidateSetup(context.Context) error { return nil }
func (f *fakeStore) Close() error                        { return nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestService(store Store) *Service {
	return NewService(store, NewNopLogger(), fixedClock{t: time.UnixMilli(1700000000000)})
}

func TestHandleIdentityCreatedIdempotent(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	id := Identity{UID: "u1", Email: "a@example.com", OccurredAt: time.UnixMilli(1690000000000)}

	// Duplicate delivery must converge to the same record.
	for i := 0; i < 2; i++ {
		if err := svc.HandleIdentityCreated(ctx, id); err != nil {
			t.Fatalf("HandleIdentityCreated() delivery %d error: %v", i+1, err)
		}
	}

	rec, ok, _ := store.Get(ctx, "users/u1")
	if !ok {
		t.Fatal("profile record missing after provisioning")
	}
	want := map[string]any{"email": "a@example.com", "uid": "u1", "created": int64(1690000000000)}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("profile = %v, want %v", rec, want)
	}
}

func TestHandleIdentityCreatedPropagatesStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failPut["users/u1"] = Transient(errors.New("store unavailable"))
	svc := newTestService(store)

	err := svc.HandleIdentityCreated(context.Background(), Identity{UID: "u1", Email: "a@example.com"})
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("HandleIdentityCreated() error = %v, want TransientError", err)
	}
}

func TestHandleIdentityCreatedSkipsMissingUID(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	if err := svc.HandleIdentityCreated(context.Background(), Identity{Email: "a@example.com"}); err != nil {
		t.Fatalf("HandleIdentityCreated() error = %v, want nil (skip)", err)
	}
	if len(store.records) != 0 {
		t.Errorf("store has %d records, want 0", len(store.records))
	}
}

func TestHandleDocumentChangeLifecycle(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	// Create.
	create := DocumentChange{ID: "p1", After: NewDocumentRecord(map[string]any{"ownerId": "u1", "title": "Hello"})}
	if err := svc.HandleDocumentChange(ctx, create); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec, ok, _ := store.Get(ctx, "users/u1/pages/p1")
	if !ok {
		t.Fatal("entry missing after create")
	}
	if !reflect.DeepEqual(rec, map[string]any{"ownerId": "u1", "title": "Hello"}) {
		t.Errorf("entry = %v after create", rec)
	}

	// Update in place.
	update := DocumentChange{
		ID:     "p1",
		Before: NewDocumentRecord(map[string]any{"ownerId": "u1", "title": "Hello"}),
		After:  NewDocumentRecord(map[string]any{"ownerId": "u1", "title": "Hello again"}),
	}
	if err := svc.HandleDocumentChange(ctx, update); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, _, _ = store.Get(ctx, "users/u1/pages/p1")
	if rec["title"] != "Hello again" {
		t.Errorf("title = %v after update, want %q", rec["title"], "Hello again")
	}

	// Delete.
	del := DocumentChange{ID: "p1", Before: NewDocumentRecord(map[string]any{"ownerId": "u1", "title": "Hello again"})}
	if err := svc.HandleDocumentChange(ctx, del); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "users/u1/pages/p1"); ok {
		t.Error("entry still present after delete")
	}

	// Redelivered delete is a no-op, not an error.
	if err := svc.HandleDocumentChange(ctx, del); err != nil {
		t.Fatalf("redelivered delete: %v", err)
	}
}

func TestHandleDocumentChangeOwnershipTransfer(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	create := DocumentChange{ID: "p1", After: NewDocumentRecord(map[string]any{"ownerId": "u1", "title": "Hello"})}
	if err := svc.HandleDocumentChange(ctx, create); err != nil {
		t.Fatalf("create: %v", err)
	}

	transfer := DocumentChange{
		ID:     "p1",
		Before: NewDocumentRecord(map[string]any{"ownerId": "u1", "title": "Hello"}),
		After:  NewDocumentRecord(map[string]any{"ownerId": "u2", "title": "Hello"}),
	}
	if err := svc.HandleDocumentChange(ctx, transfer); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if _, ok, _ := store.Get(ctx, "users/u1/pages/p1"); ok {
		t.Error("stale entry remains under old owner after transfer")
	}
	rec, ok, _ := store.Get(ctx, "users/u2/pages/p1")
	if !ok {
		t.Fatal("entry missing under new owner after transfer")
	}
	if !reflect.DeepEqual(rec, map[string]any{"ownerId": "u2", "title": "Hello"}) {
		t.Errorf("entry = %v under new owner", rec)
	}
}

func TestHandleDocumentChangeOrphanCleanupFailure(t *testing.T) {
	store := newFakeStore()
	store.failDelete["users/u1/pages/p1"] = Transient(errors.New("store unavailable"))
	svc := newTestService(store)
	ctx := context.Background()

	transfer := DocumentChange{
		ID:     "p1",
		Before: NewDocumentRecord(map[string]any{"ownerId": "u1", "title": "Hello"}),
		After:  NewDocumentRecord(map[string]any{"ownerId": "u2", "title": "Hello"}),
	}

	err := svc.HandleDocumentChange(ctx, transfer)
	var cleanup *OrphanCleanupError
	if !errors.As(err, &cleanup) {
		t.Fatalf("transfer error = %v, want OrphanCleanupError", err)
	}
	if cleanup.StalePath != "users/u1/pages/p1" {
		t.Errorf("stale path = %q", cleanup.StalePath)
	}

	// The write half landed even though cleanup failed.
	if _, ok, _ := store.Get(ctx, "users/u2/pages/p1"); !ok {
		t.Error("entry missing under new owner despite successful write half")
	}

	// Redelivery after the store recovers converges.
	delete(store.failDelete, "users/u1/pages/p1")
	if err := svc.HandleDocumentChange(ctx, transfer); err != nil {
		t.Fatalf("redelivered transfer: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "users/u1/pages/p1"); ok {
		t.Error("stale entry remains after redelivery")
	}
}

func TestHandleDocumentChangeSkipsMissingOwner(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)

	c := DocumentChange{ID: "p1", After: NewDocumentRecord(map[string]any{"title": "Hello"})}
	if err := svc.HandleDocumentChange(context.Background(), c); err != nil {
		t.Fatalf("HandleDocumentChange() error = %v, want nil (skip)", err)
	}
	if len(store.records) != 0 {
		t.Errorf("store has %d records, want 0", len(store.records))
	}
}

func TestHandleDocumentChangePropagatesPutFailure(t *testing.T) {
	store := newFakeStore()
	store.failPut["users/u1/pages/p1"] = Transient(errors.New("store unavailable"))
	svc := newTestService(store)

	c := DocumentChange{ID: "p1", After: NewDocumentRecord(map[string]any{"ownerId": "u1"})}
	err := svc.HandleDocumentChange(context.Background(), c)
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("HandleDocumentChange() error = %v, want TransientError", err)
	}
}
