package kvstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/voxrip/voxrip/internal/kvstore"
)

// conformance exercises the Store contract against any backend.
func conformance(t *testing.T, kv kvstore.Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := kv.Get(ctx, "missing"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
	if has, err := kv.Has(ctx, "missing"); err != nil || has {
		t.Fatalf("Has(missing) = %v, %v", has, err)
	}
	if err := kv.Remove(ctx, "missing"); err != nil {
		t.Fatalf("Remove of absent key = %v, want nil", err)
	}

	blob := []byte{0x00, 0x01, 0xff, '{', '"'}
	if err := kv.Set(ctx, "k", blob); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(blob) {
		t.Fatalf("Get = %v, want %v (binary-safe round trip)", got, blob)
	}
	if has, _ := kv.Has(ctx, "k"); !has {
		t.Fatal("Has(k) = false after Set")
	}

	if err := kv.Set(ctx, "k", []byte("replaced")); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if got, _ := kv.Get(ctx, "k"); string(got) != "replaced" {
		t.Fatalf("overwrite lost: %q", got)
	}

	if err := kv.Remove(ctx, "k"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := kv.Get(ctx, "k"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("Get after Remove = %v, want ErrNotFound", err)
	}

	if err := kv.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Set(ctx, "b", []byte("2")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, key := range []string{"a", "b"} {
		if has, _ := kv.Has(ctx, key); has {
			t.Fatalf("key %q survived Clear", key)
		}
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	conformance(t, kvstore.NewMemoryStore())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	kv := kvstore.NewMemoryStore()
	src := []byte("original")
	if err := kv.Set(ctx, "k", src); err != nil {
		t.Fatalf("Set: %v", err)
	}
	src[0] = 'X'

	got, err := kv.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("stored value aliased caller's slice: %q", got)
	}
	got[0] = 'Y'
	again, _ := kv.Get(ctx, "k")
	if string(again) != "original" {
		t.Fatalf("returned value aliased stored slice: %q", again)
	}
}

func TestFileStore(t *testing.T) {
	t.Parallel()
	conformance(t, kvstore.NewFileStore(filepath.Join(t.TempDir(), "kv.json")))
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "kv.json")
	kv := kvstore.NewFileStore(path)
	if err := kv.Set(ctx, "k", []byte{0xde, 0xad}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened := kvstore.NewFileStore(path)
	got, err := reopened.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != string([]byte{0xde, 0xad}) {
		t.Fatalf("reopened value = %v", got)
	}
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	kv, err := kvstore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	conformance(t, kv)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "kv.db")
	kv, err := kvstore.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := kv.Set(ctx, "k", []byte("durable")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := kv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := kvstore.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	got, err := reopened.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if string(got) != "durable" {
		t.Fatalf("reopened value = %q", got)
	}
}
