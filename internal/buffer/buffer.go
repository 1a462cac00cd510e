// Package buffer is the client-side durable heartbeat queue (C2): an
// append-only FIFO with an advancing "sent" watermark, backed by an
// embedded SQLite database, with an in-memory ring buffer fallback when
// durable storage is unavailable.
package buffer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/storepulse/storepulse/internal/heartbeat"
)

// Entry is a single buffered heartbeat (spec: BufferedHeartbeat).
type Entry struct {
	Seq       int64
	Timestamp time.Time
	Payload   heartbeat.Heartbeat
	Sent      bool
}

// Buffer is the FIFO persistent queue described by C2.
type Buffer struct {
	db *sql.DB
}

// Open opens or creates a SQLite-backed buffer at dbPath and runs
// migrations. On any failure the caller should fall back to NewRing.
func Open(dbPath string) (*Buffer, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening buffer database %s: %w", dbPath, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging buffer database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running buffer migrations: %w", err)
	}

	return &Buffer{db: db}, nil
}

// Close closes the underlying database connection.
func (b *Buffer) Close() error {
	return b.db.Close()
}

// Enqueue appends a heartbeat to the tail of the queue. A failure here is
// expected to be logged and swallowed by the caller (C3) rather than
// propagated — the next heartbeat still attempts direct delivery.
func (b *Buffer) Enqueue(ctx context.Context, hb heartbeat.Heartbeat) (int64, error) {
	payload, err := json.Marshal(hb)
	if err != nil {
		return 0, fmt.Errorf("marshalling heartbeat: %w", err)
	}

	res, err := b.db.ExecContext(ctx,
		`INSERT INTO heartbeat_buffer (timestamp, data, sent, created_at) VALUES (?, ?, 0, ?)`,
		hb.Timestamp, payload, time.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueueing heartbeat: %w", err)
	}
	return res.LastInsertId()
}

// Peek returns up to n unsent entries in ascending seq order.
func (b *Buffer) Peek(ctx context.Context, n int) ([]Entry, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, timestamp, data, sent FROM heartbeat_buffer WHERE sent = 0 ORDER BY id ASC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("peeking heartbeat buffer: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		var sent int
		if err := rows.Scan(&e.Seq, &e.Timestamp, &payload, &sent); err != nil {
			return nil, fmt.Errorf("scanning buffered heartbeat: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshalling buffered heartbeat %d: %w", e.Seq, err)
		}
		e.Sent = sent != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkSent marks seq as delivered. It is idempotent: marking an
// already-sent or missing seq is not an error.
func (b *Buffer) MarkSent(ctx context.Context, seq int64) error {
	_, err := b.db.ExecContext(ctx, `UPDATE heartbeat_buffer SET sent = 1 WHERE id = ?`, seq)
	if err != nil {
		return fmt.Errorf("marking buffered heartbeat %d sent: %w", seq, err)
	}
	return nil
}

// GC deletes sent entries older than retention.
func (b *Buffer) GC(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := b.db.ExecContext(ctx, `DELETE FROM heartbeat_buffer WHERE sent = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("garbage-collecting heartbeat buffer: %w", err)
	}
	return res.RowsAffected()
}

// Len reports the number of unsent entries, mainly for tests and /health.
func (b *Buffer) Len(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM heartbeat_buffer WHERE sent = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting unsent heartbeats: %w", err)
	}
	return n, nil
}
