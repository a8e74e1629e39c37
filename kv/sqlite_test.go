package kv

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/clipdex/clipdex/errors"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "kv_test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLite(db)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	return store
}

func TestSQLite_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	if err := store.Set(ctx, "job:1", []byte("v1"), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "job:1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("unexpected value: %s", got)
	}

	// Overwrite through the upsert path
	if err := store.Set(ctx, "job:1", []byte("v2"), time.Hour); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _ = store.Get(ctx, "job:1")
	if string(got) != "v2" {
		t.Errorf("expected overwritten value, got %s", got)
	}

	if err := store.Delete(ctx, "job:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, "job:1"); !errors.IsNotFound(err) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLite_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	base := time.Now()
	store.timeNow = func() time.Time { return base }

	if err := store.Set(ctx, "job:1", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}

	// Move past the deadline and observe absence
	store.timeNow = func() time.Time { return base.Add(2 * time.Hour) }
	if _, err := store.Get(ctx, "job:1"); !errors.IsNotFound(err) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestSQLite_Purge(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLite(t)

	base := time.Now()
	store.timeNow = func() time.Time { return base }

	store.Set(ctx, "short", []byte("v"), time.Minute)
	store.Set(ctx, "long", []byte("v"), 24*time.Hour)
	store.Set(ctx, "pinned", []byte("v"), 0)

	store.timeNow = func() time.Time { return base.Add(time.Hour) }

	reaped, err := store.Purge(ctx)
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if reaped != 1 {
		t.Errorf("expected 1 reaped entry, got %d", reaped)
	}

	if _, err := store.Get(ctx, "long"); err != nil {
		t.Errorf("unexpired key should survive purge: %v", err)
	}
	if _, err := store.Get(ctx, "pinned"); err != nil {
		t.Errorf("no-expiry key should survive purge: %v", err)
	}
}
