package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/storepulse/storepulse/internal/heartbeat"
)

const (
	ringCapacity = 100
	ringTrimTo   = 50
)

// Ring is the in-memory fallback used when the durable SQLite buffer could
// not be opened. It is a documented data-loss mode: once full it drops the
// oldest half of its entries rather than growing unbounded.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	nextSeq int64
}

// NewRing constructs an empty in-memory ring buffer.
func NewRing() *Ring {
	return &Ring{nextSeq: 1}
}

func (r *Ring) Enqueue(_ context.Context, hb heartbeat.Heartbeat) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.nextSeq
	r.nextSeq++
	r.entries = append(r.entries, Entry{Seq: seq, Timestamp: hb.Timestamp, Payload: hb})

	if len(r.entries) > ringCapacity {
		drop := len(r.entries) - ringTrimTo
		r.entries = r.entries[drop:]
	}
	return seq, nil
}

func (r *Ring) Peek(_ context.Context, n int) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Entry
	for _, e := range r.entries {
		if e.Sent {
			continue
		}
		out = append(out, e)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func (r *Ring) MarkSent(_ context.Context, seq int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].Seq == seq {
			r.entries[i].Sent = true
			return nil
		}
	}
	return nil
}

func (r *Ring) GC(_ context.Context, retention time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	kept := r.entries[:0]
	var removed int64
	for _, e := range r.entries {
		if e.Sent && e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return removed, nil
}

func (r *Ring) Len(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	for _, e := range r.entries {
		if !e.Sent {
			n++
		}
	}
	return n, nil
}

func (r *Ring) Close() error { return nil }
