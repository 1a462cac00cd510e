package buffer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepulse/storepulse/internal/heartbeat"
)

func newTestBuffer(t testing.TB) *Buffer {
	t.Helper()
	dir := t.TempDir()
	b, err := Open(filepath.Join(dir, "buffer.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func sampleHeartbeat(storeID string) heartbeat.Heartbeat {
	return heartbeat.Heartbeat{StoreID: storeID, Timestamp: time.Now()}
}

func TestBuffer_EnqueuePeekOrder(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	seq1, err := b.Enqueue(ctx, sampleHeartbeat("a"))
	require.NoError(t, err)
	seq2, err := b.Enqueue(ctx, sampleHeartbeat("b"))
	require.NoError(t, err)

	entries, err := b.Peek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, seq1, entries[0].Seq)
	assert.Equal(t, seq2, entries[1].Seq)
	assert.Equal(t, "a", entries[0].Payload.StoreID)
}

func TestBuffer_MarkSentRemovesFromPeek(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	seq, err := b.Enqueue(ctx, sampleHeartbeat("a"))
	require.NoError(t, err)

	require.NoError(t, b.MarkSent(ctx, seq))

	entries, err := b.Peek(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuffer_MarkSentIdempotent(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	seq, err := b.Enqueue(ctx, sampleHeartbeat("a"))
	require.NoError(t, err)

	assert.NoError(t, b.MarkSent(ctx, seq))
	assert.NoError(t, b.MarkSent(ctx, seq))
	assert.NoError(t, b.MarkSent(ctx, 999999))
}

func TestBuffer_PeekRespectsLimit(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Enqueue(ctx, sampleHeartbeat("a"))
		require.NoError(t, err)
	}

	entries, err := b.Peek(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBuffer_GCRemovesOnlyOldSent(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	seq, err := b.Enqueue(ctx, sampleHeartbeat("a"))
	require.NoError(t, err)
	require.NoError(t, b.MarkSent(ctx, seq))

	_, err = b.db.ExecContext(ctx, `UPDATE heartbeat_buffer SET created_at = ? WHERE id = ?`,
		time.Now().Add(-48*time.Hour), seq)
	require.NoError(t, err)

	seq2, err := b.Enqueue(ctx, sampleHeartbeat("b"))
	require.NoError(t, err)
	require.NoError(t, b.MarkSent(ctx, seq2))

	removed, err := b.GC(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestBuffer_Len(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	n, err := b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = b.Enqueue(ctx, sampleHeartbeat("a"))
	require.NoError(t, err)

	n, err = b.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRing_TrimsOnOverflow(t *testing.T) {
	r := NewRing()
	ctx := context.Background()

	for i := 0; i < 120; i++ {
		_, err := r.Enqueue(ctx, sampleHeartbeat("a"))
		require.NoError(t, err)
	}

	n, err := r.Len(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, ringCapacity)
}

func TestRing_EnqueuePeekMarkSent(t *testing.T) {
	r := NewRing()
	ctx := context.Background()

	seq, err := r.Enqueue(ctx, sampleHeartbeat("a"))
	require.NoError(t, err)

	entries, err := r.Peek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.NoError(t, r.MarkSent(ctx, seq))
	entries, err = r.Peek(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

var _ Queue = (*Buffer)(nil)
