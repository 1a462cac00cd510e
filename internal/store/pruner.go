package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionConfig defines how long to keep data in each append-only
// table. stores itself is never pruned — a liveness record is never
// destroyed.
type RetentionConfig struct {
	HeartbeatHistory time.Duration // default 7d
	SystemStats      time.Duration // default 7d
	Alerts           time.Duration // default 30d
}

// DefaultRetention returns the default retention periods.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		HeartbeatHistory: 7 * 24 * time.Hour,
		SystemStats:      7 * 24 * time.Hour,
		Alerts:           30 * 24 * time.Hour,
	}
}

// Pruner periodically removes old data from the store's append-only
// tables so they don't grow unbounded.
type Pruner struct {
	store     *Store
	retention RetentionConfig
	interval  time.Duration
}

// NewPruner creates a pruner with the given retention config.
func NewPruner(store *Store, retention RetentionConfig) *Pruner {
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  1 * time.Hour,
	}
}

// Run starts the pruner loop. It blocks until the context is cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	slog.Info("pruner started", "interval", p.interval)

	p.prune()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pruner stopped")
			return ctx.Err()
		case <-ticker.C:
			p.prune()
		}
	}
}

func (p *Pruner) prune() {
	now := time.Now()
	tables := []struct {
		name      string
		retention time.Duration
	}{
		{"heartbeat_history", p.retention.HeartbeatHistory},
		{"system_stats", p.retention.SystemStats},
		{"alerts", p.retention.Alerts},
	}

	for _, t := range tables {
		cutoff := now.Add(-t.retention)
		result, err := p.store.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", t.name), cutoff)
		if err != nil {
			slog.Error("pruning failed", "table", t.name, "error", err)
			continue
		}
		rows, _ := result.RowsAffected()
		if rows > 0 {
			slog.Info("pruned old data", "table", t.name, "rows", rows)
		}
	}
}
