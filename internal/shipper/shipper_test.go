package shipper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storepulse/storepulse/internal/buffer"
	"github.com/storepulse/storepulse/internal/heartbeat"
)

type fakeCollector struct {
	storeID string
}

func (f fakeCollector) Collect(ctx context.Context) heartbeat.Heartbeat {
	return heartbeat.Heartbeat{StoreID: f.storeID, Timestamp: time.Now()}
}

func jsonAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","total_stores_monitored":1}`))
}

func TestTick_LiveSuccess_NoBuffering(t *testing.T) {
	var liveHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/heartbeat" {
			atomic.AddInt32(&liveHits, 1)
		}
		jsonAck(w)
	}))
	defer srv.Close()

	q := buffer.NewRing()
	s := New(fakeCollector{storeID: "a"}, q, srv.URL, time.Minute)

	s.tick(context.Background())

	success, failures, startupPending := s.Stats()
	assert.Equal(t, 1, success)
	assert.Equal(t, 0, failures)
	assert.False(t, startupPending)
	assert.Equal(t, int32(1), atomic.LoadInt32(&liveHits))

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTick_LiveFailure_Buffers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := buffer.NewRing()
	s := New(fakeCollector{storeID: "a"}, q, srv.URL, time.Minute)

	s.tick(context.Background())

	_, failures, _ := s.Stats()
	assert.Equal(t, 1, failures)

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTick_StartupClearsOnlyAfterSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonAck(w)
	}))
	defer srv.Close()

	q := buffer.NewRing()
	s := New(fakeCollector{storeID: "a"}, q, srv.URL, time.Minute)

	_, _, startupPendingBefore := s.Stats()
	assert.True(t, startupPendingBefore)

	s.tick(context.Background())

	_, _, startupPendingAfter := s.Stats()
	assert.False(t, startupPendingAfter)
}

func TestTick_StartupStaysPendingUntilFirstSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	q := buffer.NewRing()
	s := New(fakeCollector{storeID: "a"}, q, srv.URL, time.Minute)

	s.tick(context.Background())

	_, _, startupPending := s.Stats()
	assert.True(t, startupPending, "a failed attempt still counts as startup until one succeeds")
}

func TestDrain_AbortsOnNetworkFailure(t *testing.T) {
	q := buffer.NewRing()
	ctx := context.Background()
	_, err := q.Enqueue(ctx, heartbeat.Heartbeat{StoreID: "a"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, heartbeat.Heartbeat{StoreID: "b"})
	require.NoError(t, err)

	s := New(fakeCollector{storeID: "a"}, q, "http://127.0.0.1:1", time.Minute)
	s.drain(ctx)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "both entries should remain after an aborted drain")
}

func TestDrain_SkipsOnBadRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	q := buffer.NewRing()
	ctx := context.Background()
	_, err := q.Enqueue(ctx, heartbeat.Heartbeat{StoreID: "a"})
	require.NoError(t, err)

	s := New(fakeCollector{storeID: "a"}, q, srv.URL, time.Minute)
	s.drain(ctx)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a 4xx should skip (not re-surface) the buffered entry")
}

func TestDrain_MarksSentOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonAck(w)
	}))
	defer srv.Close()

	q := buffer.NewRing()
	ctx := context.Background()
	_, err := q.Enqueue(ctx, heartbeat.Heartbeat{StoreID: "a"})
	require.NoError(t, err)

	s := New(fakeCollector{storeID: "a"}, q, srv.URL, time.Minute)
	s.drain(ctx)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonAck(w)
	}))
	defer srv.Close()

	q := buffer.NewRing()
	s := New(fakeCollector{storeID: "a"}, q, srv.URL, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
