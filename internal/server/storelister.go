package server

import (
	"context"

	"github.com/storepulse/storepulse/internal/store"
	"github.com/storepulse/storepulse/internal/sweeper"
)

// storeLister adapts *store.Store to sweeper.StoreLister: the two packages'
// row types differ (StoreRow carries fields the sweeper has no use for), so
// a thin conversion lives here rather than widening the sweeper's view of
// persistence.
type storeLister struct {
	store *store.Store
}

// NewStoreLister wraps a Store for use as the sweeper's hydration source.
func NewStoreLister(s *store.Store) sweeper.StoreLister {
	return storeLister{store: s}
}

func (l storeLister) ListStores(ctx context.Context) ([]sweeper.PersistedStore, error) {
	rows, err := l.store.ListStores(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]sweeper.PersistedStore, len(rows))
	for i, row := range rows {
		out[i] = sweeper.PersistedStore{
			StoreID:       row.StoreID,
			StoreName:     row.StoreName,
			LastHeartbeat: row.LastHeartbeat,
			CreatedAt:     row.CreatedAt,
		}
	}
	return out, nil
}
