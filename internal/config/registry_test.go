package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/voxrip/voxrip/internal/config"
	"github.com/voxrip/voxrip/internal/kvstore"
)

func TestRegistry_CreateStore(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterBackend(config.BackendMemory, func(context.Context, config.StorageConfig) (kvstore.Store, func() error, error) {
		return kvstore.NewMemoryStore(), nil, nil
	})

	store, cleanup, err := reg.CreateStore(context.Background(), config.StorageConfig{Backend: config.BackendMemory})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store == nil {
		t.Fatal("expected a store")
	}
	if cleanup != nil {
		t.Error("memory backend should not need cleanup")
	}
}

func TestRegistry_UnregisteredBackend(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, _, err := reg.CreateStore(context.Background(), config.StorageConfig{Backend: config.BackendSQLite})
	if !errors.Is(err, config.ErrBackendNotRegistered) {
		t.Fatalf("expected ErrBackendNotRegistered, got %v", err)
	}
}

func TestDefaultRegistry_BuiltinBackends(t *testing.T) {
	t.Parallel()
	reg := config.DefaultRegistry()

	// Memory and file need no external resources.
	if _, _, err := reg.CreateStore(context.Background(), config.StorageConfig{Backend: config.BackendMemory}); err != nil {
		t.Errorf("memory backend: %v", err)
	}
	path := t.TempDir() + "/patterns.json"
	if _, _, err := reg.CreateStore(context.Background(), config.StorageConfig{Backend: config.BackendFile, Path: path}); err != nil {
		t.Errorf("file backend: %v", err)
	}
}
