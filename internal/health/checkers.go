package health

import (
	"context"
	"fmt"

	"github.com/voxrip/voxrip/internal/catalog"
)

// KVProber is the slice of the KV store the readiness check needs.
type KVProber interface {
	Has(ctx context.Context, key string) (bool, error)
}

// SetLister is the slice of the card catalog the readiness check needs.
// [catalog.Client] satisfies it.
type SetLister interface {
	ListSets(ctx context.Context) ([]catalog.SetInfo, error)
}

// KVChecker probes the learning store's persistence backend. probeKey
// should be the key the store persists under; existence is irrelevant,
// only that the backend answers.
func KVChecker(kv KVProber, probeKey string) Checker {
	return Checker{
		Name: "kvstore",
		Check: func(ctx context.Context) error {
			if _, err := kv.Has(ctx, probeKey); err != nil {
				return fmt.Errorf("kv probe: %w", err)
			}
			return nil
		},
	}
}

// CatalogChecker probes the card catalog by listing sets.
func CatalogChecker(sets SetLister) Checker {
	return Checker{
		Name: "catalog",
		Check: func(ctx context.Context) error {
			if _, err := sets.ListSets(ctx); err != nil {
				return fmt.Errorf("catalog probe: %w", err)
			}
			return nil
		},
	}
}
