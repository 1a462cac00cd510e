// Package alert is the Alert Dispatcher (C7): it turns a registry
// Transition into a classified, cooldown-gated, persisted, and
// asynchronously delivered Notification. It never blocks the caller on
// notification delivery — Dispatch only blocks on the (short) persistence
// write and the cooldown check; delivery itself runs on a background
// worker queue, per the design note separating policy+I/O here from the
// registry's pure state transition.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storepulse/storepulse/internal/heartbeat"
	"github.com/storepulse/storepulse/internal/notify"
	"github.com/storepulse/storepulse/internal/registry"
)

// Default cooldowns per spec: offline governs repeat offline notifications
// only, the first online->offline transition is always sent regardless.
const (
	DefaultOfflineCooldown  = 5 * time.Minute
	DefaultRecoveryCooldown = 5 * time.Minute
	DefaultStartupCooldown  = 10 * time.Minute
)

const deliveryQueueSize = 256

// Cooldowns is the per-store, per-kind last-sent table. Entries live for
// the process lifetime of the dispatcher and are never pruned or
// persisted — a restart resets all cooldowns, which is a deliberate
// choice (the source makes the same one).
type Cooldowns struct {
	mu   sync.Mutex
	last map[heartbeat.AlertKind]map[string]time.Time
}

// NewCooldowns returns an empty cooldown table.
func NewCooldowns() *Cooldowns {
	return &Cooldowns{last: make(map[heartbeat.AlertKind]map[string]time.Time)}
}

// Allow reports whether an alert of kind for storeID may fire at now
// given cooldown, and if so atomically records now as the last-sent
// instant. The read-decide-write happens under a single lock, giving it
// compare-and-swap semantics at the map-entry granularity the design
// note calls for.
func (c *Cooldowns) Allow(kind heartbeat.AlertKind, storeID string, cooldown time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.entries(kind)
	if last, ok := m[storeID]; ok && now.Sub(last) < cooldown {
		return false
	}
	m[storeID] = now
	return true
}

// Record unconditionally sets now as the last-sent instant for kind and
// storeID, used when an alert bypasses the cooldown check entirely (the
// first online->offline transition) but still needs a baseline for the
// next repeat check.
func (c *Cooldowns) Record(kind heartbeat.AlertKind, storeID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries(kind)[storeID] = now
}

func (c *Cooldowns) entries(kind heartbeat.AlertKind) map[string]time.Time {
	m := c.last[kind]
	if m == nil {
		m = make(map[string]time.Time)
		c.last[kind] = m
	}
	return m
}

// AlertStore is the persistence collaborator the dispatcher writes
// through. It is a narrow interface so internal/store's schema stays an
// opaque append log from the dispatcher's point of view.
type AlertStore interface {
	InsertAlert(ctx context.Context, storeID string, kind heartbeat.AlertKind, message string, severity heartbeat.Severity, ts time.Time) error
}

// RecipientLookup resolves a store's notification recipients, falling
// back to a default set. Implemented by *notify.RecipientBook.
type RecipientLookup interface {
	Lookup(storeID string) []string
}

// Dispatcher wires cooldown policy, persistence, recipient lookup, and
// delivery together for a Transition coming out of the registry.
type Dispatcher struct {
	cooldowns  *Cooldowns
	store      AlertStore
	recipients RecipientLookup
	providers  []notify.Provider

	offlineCooldown  time.Duration
	recoveryCooldown time.Duration
	startupCooldown  time.Duration

	queue  chan notify.Notification
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Dispatcher. Call Start before the first Dispatch and Stop
// on shutdown to drain in-flight deliveries.
func New(store AlertStore, recipients RecipientLookup, providers []notify.Provider) *Dispatcher {
	return &Dispatcher{
		cooldowns:        NewCooldowns(),
		store:            store,
		recipients:       recipients,
		providers:        providers,
		offlineCooldown:  DefaultOfflineCooldown,
		recoveryCooldown: DefaultRecoveryCooldown,
		startupCooldown:  DefaultStartupCooldown,
		queue:            make(chan notify.Notification, deliveryQueueSize),
	}
}

// WithCooldowns overrides the default cooldown durations.
func (d *Dispatcher) WithCooldowns(offline, recovery, startup time.Duration) *Dispatcher {
	d.offlineCooldown = offline
	d.recoveryCooldown = recovery
	d.startupCooldown = startup
	return d
}

// Start launches the delivery worker. Dispatch enqueues are non-blocking
// as long as the queue has room; a full queue makes Dispatch drop the
// notification and log, rather than block the ingestion or sweeper path.
func (d *Dispatcher) Start() {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.wg.Add(1)
	go d.deliverLoop()
}

// Stop stops accepting new deliveries and waits for in-flight ones to
// finish.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) deliverLoop() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(n notify.Notification) {
	if len(n.Recipients) == 0 {
		return
	}
	for _, p := range d.providers {
		if err := p.Send(d.ctx, n); err != nil {
			slog.Error("notification delivery failed", "provider", p.Name(), "store_id", n.StoreID, "kind", n.Kind, "error", err)
		}
	}
}

func (d *Dispatcher) cooldownFor(kind heartbeat.AlertKind) time.Duration {
	switch kind {
	case heartbeat.KindRecovery:
		return d.recoveryCooldown
	case heartbeat.KindStartup:
		return d.startupCooldown
	default:
		return d.offlineCooldown
	}
}

func severityFor(kind heartbeat.AlertKind) heartbeat.Severity {
	switch kind {
	case heartbeat.KindStartup:
		return heartbeat.SeverityLow
	case heartbeat.KindRecovery:
		return heartbeat.SeverityMedium
	case heartbeat.KindOffline:
		return heartbeat.SeverityCritical
	default:
		return heartbeat.SeverityMedium
	}
}

// Dispatch evaluates the candidate alert on tr, if any, against the
// cooldown table; when the alert fires, it persists the alert row
// synchronously (so the alert log commits before the caller returns)
// and enqueues delivery asynchronously. It is safe to call from both the
// ingestion path and the sweeper.
func (d *Dispatcher) Dispatch(ctx context.Context, tr registry.Transition, now time.Time) error {
	if tr.AlertCandidate == "" {
		return nil
	}
	if tr.BypassCooldown {
		d.cooldowns.Record(tr.AlertCandidate, tr.StoreID, now)
	} else if !d.cooldowns.Allow(tr.AlertCandidate, tr.StoreID, d.cooldownFor(tr.AlertCandidate), now) {
		return nil
	}

	severity := severityFor(tr.AlertCandidate)
	message := buildMessage(tr)

	if err := d.store.InsertAlert(ctx, tr.StoreID, tr.AlertCandidate, message, severity, now); err != nil {
		slog.Error("persisting alert", "store_id", tr.StoreID, "kind", tr.AlertCandidate, "error", err)
	}

	recipients := d.recipients.Lookup(tr.StoreID)
	if len(recipients) == 0 {
		slog.Warn("alert has no recipients, notification skipped", "store_id", tr.StoreID, "kind", tr.AlertCandidate)
		return nil
	}

	n := notify.Notification{
		StoreID:    tr.StoreID,
		StoreName:  tr.Record.StoreName,
		Kind:       tr.AlertCandidate,
		Severity:   severity,
		Subject:    subjectFor(tr),
		Message:    message,
		Timestamp:  now,
		Recipients: recipients,
	}

	select {
	case d.queue <- n:
	default:
		slog.Error("delivery queue full, dropping notification", "store_id", tr.StoreID, "kind", tr.AlertCandidate)
	}
	return nil
}

func subjectFor(tr registry.Transition) string {
	name := tr.Record.StoreName
	if name == "" {
		name = tr.StoreID
	}
	switch tr.AlertCandidate {
	case heartbeat.KindStartup:
		return fmt.Sprintf("%s started", name)
	case heartbeat.KindRecovery:
		return fmt.Sprintf("%s recovered", name)
	case heartbeat.KindOffline:
		return fmt.Sprintf("%s is offline", name)
	default:
		return name
	}
}

func buildMessage(tr registry.Transition) string {
	name := tr.Record.StoreName
	if name == "" {
		name = tr.StoreID
	}
	switch tr.AlertCandidate {
	case heartbeat.KindStartup:
		return fmt.Sprintf("%s began sending heartbeats.%s", name, telemetrySummary(tr.Record))
	case heartbeat.KindRecovery:
		return fmt.Sprintf("%s resumed heartbeating after being offline.%s", name, telemetrySummary(tr.Record))
	case heartbeat.KindOffline:
		var since string
		if tr.Record.LastHeartbeat != nil {
			since = fmt.Sprintf(" Last heartbeat at %s.", tr.Record.LastHeartbeat.Format(time.RFC3339))
		}
		return fmt.Sprintf("%s has stopped sending heartbeats and is considered offline.%s", name, since)
	default:
		return fmt.Sprintf("%s: %s", name, tr.AlertCandidate)
	}
}

// telemetrySummary renders a short CPU/memory/camera line from the
// heartbeat that produced the transition, for the alert kinds where the
// reader benefits from knowing what state the store was in when it
// started or came back (spec's startup/recovery bodies carry a
// telemetry summary; the offline body does not, since there is no
// fresh telemetry to summarize).
func telemetrySummary(rec registry.Record) string {
	if rec.LatestMetrics == nil {
		return ""
	}
	sys := rec.LatestMetrics.SystemStats
	cam := rec.LatestMetrics.CameraStatus
	return fmt.Sprintf(" CPU %.0f%%, memory %.0f%%, cameras %d/%d active.",
		sys.CPUPercent, sys.MemPercent, cam.ActiveCameras, cam.TotalCameras)
}
