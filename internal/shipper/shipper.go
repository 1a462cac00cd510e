// Package shipper is the Heartbeat Shipper (C3): a periodic driver that
// collects a heartbeat, attempts live delivery, and falls back to the
// durable buffer on failure, later draining it once delivery succeeds
// again.
package shipper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/storepulse/storepulse/internal/buffer"
	"github.com/storepulse/storepulse/internal/heartbeat"
)

const (
	liveTimeout     = 10 * time.Second
	bufferedTimeout = 5 * time.Second
	drainBatchSize  = 10
	gcInterval      = 30 * time.Minute
	gcRetention     = 24 * time.Hour
)

// Collector produces a Heartbeat snapshot on demand. internal/telemetry
// satisfies this.
type Collector interface {
	Collect(ctx context.Context) heartbeat.Heartbeat
}

// RetryableError marks a delivery failure as network-class: the shipper
// should stop draining the buffer this tick but must not skip the entry.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from the ingestion endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ingestion endpoint returned %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether the failure is transient (5xx or 429) as
// opposed to a bad-input rejection (other 4xx), which the caller should
// treat as "skip and continue" rather than "abort and retry".
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// ack mirrors the ingestion endpoint's response body.
type ack struct {
	Status               string `json:"status"`
	TotalStoresMonitored int    `json:"total_stores_monitored"`
}

// Shipper drives C1 (via Collector) and C2 (via buffer.Queue) on a timer.
type Shipper struct {
	collector Collector
	queue     buffer.Queue
	client    *http.Client
	serverURL string
	interval  time.Duration

	mu                       sync.Mutex
	startupPending           bool
	successCount             int
	consecutiveFailures      int
	lastSuccessfulConnection *time.Time
}

// New builds a Shipper. serverURL is the base URL of the ingestion
// endpoint (e.g. "https://monitor.example.com").
func New(collector Collector, queue buffer.Queue, serverURL string, interval time.Duration) *Shipper {
	return &Shipper{
		collector:      collector,
		queue:          queue,
		client:         &http.Client{},
		serverURL:      strings.TrimRight(serverURL, "/"),
		interval:       interval,
		startupPending: true,
	}
}

// Run blocks, emitting heartbeats on interval until ctx is cancelled. It
// performs one final buffer drain on graceful shutdown.
func (s *Shipper) Run(ctx context.Context) error {
	slog.Info("shipper started", "interval", s.interval)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	gcTicker := time.NewTicker(gcInterval)
	defer gcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shipper shutting down, draining buffer")
			s.drain(context.Background())
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		case <-gcTicker.C:
			if removed, err := s.queue.GC(ctx, gcRetention); err != nil {
				slog.Error("buffer gc failed", "error", err)
			} else if removed > 0 {
				slog.Info("buffer gc complete", "removed", removed)
			}
		}
	}
}

// tick runs one collect-and-send cycle: emit live, and on success drain
// the buffer.
func (s *Shipper) tick(ctx context.Context) {
	hb := s.collector.Collect(ctx)

	s.mu.Lock()
	hb.IsStartup = s.startupPending
	hb.ApplicationStats.ConsecutiveFailures = s.consecutiveFailures
	hb.ApplicationStats.LastSuccessfulConnection = s.lastSuccessfulConnection
	s.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, liveTimeout)
	defer cancel()

	_, err := s.send(sendCtx, "/heartbeat", hb, liveTimeout)

	s.mu.Lock()
	if err == nil {
		s.successCount++
		s.consecutiveFailures = 0
		now := time.Now()
		s.lastSuccessfulConnection = &now
		s.startupPending = false
	} else {
		s.consecutiveFailures++
	}
	s.mu.Unlock()

	if err != nil {
		slog.Warn("live heartbeat delivery failed, buffering", "error", err)
		if _, enqueueErr := s.queue.Enqueue(ctx, hb); enqueueErr != nil {
			slog.Error("failed to buffer heartbeat", "error", enqueueErr)
		}
		return
	}

	s.drain(ctx)
}

// drain replays up to drainBatchSize buffered entries. It aborts on the
// first network-class failure, leaving the rest for the next tick; a
// non-network (bad-input) failure skips just that entry.
func (s *Shipper) drain(ctx context.Context) {
	entries, err := s.queue.Peek(ctx, drainBatchSize)
	if err != nil {
		slog.Error("peeking heartbeat buffer failed", "error", err)
		return
	}

	for _, e := range entries {
		sendCtx, cancel := context.WithTimeout(ctx, bufferedTimeout)
		_, err := s.send(sendCtx, "/heartbeat/buffered", e.Payload, bufferedTimeout)
		cancel()

		if err == nil {
			if markErr := s.queue.MarkSent(ctx, e.Seq); markErr != nil {
				slog.Error("marking buffered heartbeat sent failed", "seq", e.Seq, "error", markErr)
			}
			continue
		}

		var retryable *RetryableError
		var apiErr *APIError
		switch {
		case asRetryable(err, &retryable):
			slog.Warn("buffer drain aborted by network-class failure", "error", err)
			return
		case asAPIError(err, &apiErr) && apiErr.IsRetryable():
			slog.Warn("buffer drain aborted, ingestion endpoint overloaded", "error", err)
			return
		default:
			slog.Warn("skipping buffered heartbeat after non-retryable failure", "seq", e.Seq, "error", err)
			if markErr := s.queue.MarkSent(ctx, e.Seq); markErr != nil {
				slog.Error("marking skipped buffered heartbeat failed", "seq", e.Seq, "error", markErr)
			}
		}
	}
}

func asRetryable(err error, target **RetryableError) bool {
	r, ok := err.(*RetryableError)
	if ok {
		*target = r
	}
	return ok
}

func asAPIError(err error, target **APIError) bool {
	a, ok := err.(*APIError)
	if ok {
		*target = a
	}
	return ok
}

func (s *Shipper) send(ctx context.Context, path string, hb heartbeat.Heartbeat, timeout time.Duration) (*ack, error) {
	body, err := json.Marshal(hb)
	if err != nil {
		return nil, fmt.Errorf("marshalling heartbeat: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &RetryableError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var a ack
	if err := json.Unmarshal(respBody, &a); err != nil {
		return nil, fmt.Errorf("decoding ack: %w", err)
	}
	return &a, nil
}

// Stats exposes the shipper's delivery counters, mainly for tests.
func (s *Shipper) Stats() (success, consecutiveFailures int, startupPending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successCount, s.consecutiveFailures, s.startupPending
}
