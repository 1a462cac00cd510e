package buffer

import (
	"context"
	"time"

	"github.com/storepulse/storepulse/internal/heartbeat"
)

// Queue is the interface C3 (the shipper) drains against. Buffer and Ring
// both satisfy it; the shipper is agnostic to which one it was handed.
type Queue interface {
	Enqueue(ctx context.Context, hb heartbeat.Heartbeat) (int64, error)
	Peek(ctx context.Context, n int) ([]Entry, error)
	MarkSent(ctx context.Context, seq int64) error
	GC(ctx context.Context, retention time.Duration) (int64, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

var (
	_ Queue = (*Buffer)(nil)
	_ Queue = (*Ring)(nil)
)

// OpenOrFallback opens a durable SQLite-backed Buffer at dbPath; if that
// fails, it logs nothing itself (the caller should) and returns an
// in-memory Ring instead, per C2's documented fallback policy.
func OpenOrFallback(dbPath string) (Queue, error) {
	b, err := Open(dbPath)
	if err != nil {
		return NewRing(), err
	}
	return b, nil
}
