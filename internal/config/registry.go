package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/voxrip/voxrip/internal/kvstore"
)

// ErrBackendNotRegistered is returned by [Registry.CreateStore] when no
// factory has been registered under the requested backend name.
var ErrBackendNotRegistered = errors.New("config: storage backend not registered")

// StoreFactory builds a KV store from the storage configuration. The
// returned cleanup function releases backend resources; it may be nil
// for backends that hold none.
type StoreFactory func(ctx context.Context, cfg StorageConfig) (kvstore.Store, func() error, error)

// Registry maps storage backend names to their factories. It is safe
// for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[Backend]StoreFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Backend]StoreFactory)}
}

// RegisterBackend registers a store factory under name. Subsequent
// calls with the same name overwrite the previous registration.
func (r *Registry) RegisterBackend(name Backend, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// CreateStore instantiates the KV store selected by cfg.Backend.
// Returns [ErrBackendNotRegistered] if no factory has been registered
// for that backend.
func (r *Registry) CreateStore(ctx context.Context, cfg StorageConfig) (kvstore.Store, func() error, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrBackendNotRegistered, cfg.Backend)
	}
	return factory(ctx, cfg)
}

// DefaultRegistry returns a [Registry] with the four built-in backends
// registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterBackend(BackendMemory, func(context.Context, StorageConfig) (kvstore.Store, func() error, error) {
		return kvstore.NewMemoryStore(), nil, nil
	})
	r.RegisterBackend(BackendFile, func(_ context.Context, cfg StorageConfig) (kvstore.Store, func() error, error) {
		return kvstore.NewFileStore(cfg.Path), nil, nil
	})
	r.RegisterBackend(BackendSQLite, func(ctx context.Context, cfg StorageConfig) (kvstore.Store, func() error, error) {
		s, err := kvstore.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	})
	r.RegisterBackend(BackendPostgres, func(ctx context.Context, cfg StorageConfig) (kvstore.Store, func() error, error) {
		s, err := kvstore.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	})
	return r
}
