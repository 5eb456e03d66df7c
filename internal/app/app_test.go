package app

import (
	"bytes"
	"context"
	"testing"

	"wemirror/internal/config"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.NewConfig("test-instance", t.TempDir())
	cfg.Store = config.StoreConfig{Type: "memory"}
	cfg.Encryption.Type = "test"

	a, err := NewApp(context.Background(), cfg, "Test")
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestApp_ApplyIdentityCreated(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	payload := []byte(`{"uid":"u1","email":"a@example.com","occurredAt":1700000000000}`)
	if err := a.ApplyIdentityCreated(ctx, payload); err != nil {
		t.Fatalf("ApplyIdentityCreated() error = %v", err)
	}

	profile, ok, err := a.GetProfile(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if !ok {
		t.Fatal("profile not found after apply")
	}
	if profile["email"] != "a@example.com" {
		t.Errorf("email = %v", profile["email"])
	}

	// Malformed payload propagates as an error so the CLI can exit non-zero.
	if err := a.ApplyIdentityCreated(ctx, []byte(`{"email":"x@example.com"}`)); err == nil {
		t.Error("ApplyIdentityCreated() with missing uid succeeded, want error")
	}
}

func TestApp_ApplyDocumentChangeLifecycle(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	events := [][]byte{
		[]byte(`{"id":"p1","after":{"ownerId":"u1","title":"Hello"}}`),
		[]byte(`{"id":"p1","before":{"ownerId":"u1","title":"Hello"},"after":{"ownerId":"u2","title":"Hello"}}`),
	}
	for _, ev := range events {
		if err := a.ApplyDocumentChange(ctx, ev); err != nil {
			t.Fatalf("ApplyDocumentChange(%s) error = %v", ev, err)
		}
	}

	oldOwner, err := a.ListPages(ctx, "u1")
	if err != nil {
		t.Fatalf("ListPages(u1) error = %v", err)
	}
	if len(oldOwner) != 0 {
		t.Errorf("old owner still has %d pages after transfer", len(oldOwner))
	}

	newOwner, err := a.ListPages(ctx, "u2")
	if err != nil {
		t.Fatalf("ListPages(u2) error = %v", err)
	}
	if len(newOwner) != 1 || newOwner["p1"]["title"] != "Hello" {
		t.Errorf("new owner pages = %v", newOwner)
	}
}

func TestApp_SnapshotRoundTrip(t *testing.T) {
	src := newTestApp(t)
	ctx := context.Background()

	seed := [][]byte{
		[]byte(`{"id":"p1","after":{"ownerId":"u1","title":"Hello"}}`),
		[]byte(`{"id":"p2","after":{"ownerId":"u2","title":"World"}}`),
	}
	for _, ev := range seed {
		if err := src.ApplyDocumentChange(ctx, ev); err != nil {
			t.Fatalf("seeding: %v", err)
		}
	}
	if err := src.ApplyIdentityCreated(ctx, []byte(`{"uid":"u1","email":"a@example.com"}`)); err != nil {
		t.Fatalf("seeding profile: %v", err)
	}

	var snapshot bytes.Buffer
	if err := src.ExportSnapshot(ctx, &snapshot); err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}

	dst := newTestApp(t)
	count, err := dst.ImportSnapshot(ctx, &snapshot, "passphrase")
	if err != nil {
		t.Fatalf("ImportSnapshot() error = %v", err)
	}
	if count != 3 {
		t.Errorf("imported %d records, want 3", count)
	}

	pages, err := dst.ListPages(ctx, "u1")
	if err != nil {
		t.Fatalf("ListPages() error = %v", err)
	}
	if pages["p1"]["title"] != "Hello" {
		t.Errorf("restored pages = %v", pages)
	}
	if _, ok, _ := dst.GetProfile(ctx, "u1"); !ok {
		t.Error("restored store missing profile")
	}
}
