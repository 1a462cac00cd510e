// Package store is the server-side persistence collaborator: an opaque
// append + upsert log over SQLite. It has no opinion about liveness
// policy — the registry and dispatcher decide what to write, this
// package only writes it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/storepulse/storepulse/internal/heartbeat"
)

// StoreRow mirrors the stores table.
type StoreRow struct {
	StoreID       string
	StoreName     string
	Location      string
	LastHeartbeat *time.Time
	Status        heartbeat.Status
	LastAlertSent *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AlertRow mirrors the alerts table, optionally joined with store_name.
type AlertRow struct {
	ID         int64
	StoreID    string
	StoreName  string
	AlertType  heartbeat.AlertKind
	Message    string
	Severity   heartbeat.Severity
	Resolved   bool
	ResolvedAt *time.Time
	Timestamp  time.Time
}

// Store wraps a SQLite database holding the server's persisted liveness
// and alert log.
type Store struct {
	db *sql.DB
}

// New opens or creates a SQLite database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store database %s: %w", dbPath, err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	db.SetMaxOpenConns(10)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging store database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running store migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordHeartbeat upserts the store row and inserts one heartbeat_history
// and one system_stats row, all in a single transaction, per the
// ingestion endpoint's contract. A transaction failure is returned to
// the caller to log, but the caller still acks the client — persistence
// failure must not fail the ingestion response.
func (s *Store) RecordHeartbeat(ctx context.Context, hb heartbeat.Heartbeat, status heartbeat.Status, receivedAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning heartbeat transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertStore(ctx, tx, hb.StoreID, hb.StoreName, status, receivedAt); err != nil {
		return err
	}
	if err := insertHeartbeatHistory(ctx, tx, hb, receivedAt); err != nil {
		return err
	}
	if err := insertSystemStats(ctx, tx, hb, receivedAt); err != nil {
		return err
	}

	return tx.Commit()
}

func upsertStore(ctx context.Context, tx *sql.Tx, storeID, storeName string, status heartbeat.Status, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stores (store_id, store_name, last_heartbeat, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id) DO UPDATE SET
			store_name     = excluded.store_name,
			last_heartbeat = excluded.last_heartbeat,
			status         = excluded.status,
			updated_at     = excluded.updated_at`,
		storeID, storeName, now, string(status), now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting store %s: %w", storeID, err)
	}
	return nil
}

func insertHeartbeatHistory(ctx context.Context, tx *sql.Tx, hb heartbeat.Heartbeat, receivedAt time.Time) error {
	payload, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshalling heartbeat payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO heartbeat_history
		(store_id, timestamp, cpu_usage, memory_usage, disk_free_gb, active_cameras, total_cameras, network_connected, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		hb.StoreID, hb.Timestamp, hb.SystemStats.CPUPercent, hb.SystemStats.MemPercent, hb.SystemStats.DiskFreeGB,
		hb.CameraStatus.ActiveCameras, hb.CameraStatus.TotalCameras, hb.SystemStats.NetworkConnected, payload, receivedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting heartbeat history for %s: %w", hb.StoreID, err)
	}
	return nil
}

func insertSystemStats(ctx context.Context, tx *sql.Tx, hb heartbeat.Heartbeat, receivedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO system_stats
		(store_id, timestamp, cpu_usage, memory_usage, memory_available_gb, disk_free_gb, disk_usage_percent, process_memory_mb, uptime_hours, network_connected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		hb.StoreID, hb.Timestamp, hb.SystemStats.CPUPercent, hb.SystemStats.MemPercent, hb.SystemStats.MemAvailableGB,
		hb.SystemStats.DiskFreeGB, hb.SystemStats.DiskUsePercent, hb.SystemStats.ProcessMemMB, hb.SystemStats.UptimeHours,
		hb.SystemStats.NetworkConnected, receivedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting system stats for %s: %w", hb.StoreID, err)
	}
	return nil
}

// InsertAlert appends an alert row and stamps the store's
// last_alert_sent. It satisfies internal/alert.AlertStore.
func (s *Store) InsertAlert(ctx context.Context, storeID string, kind heartbeat.AlertKind, message string, severity heartbeat.Severity, ts time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning alert transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alerts (store_id, alert_type, message, severity, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		storeID, string(kind), message, string(severity), ts,
	)
	if err != nil {
		return fmt.Errorf("inserting alert for %s: %w", storeID, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE stores SET last_alert_sent = ?, updated_at = ? WHERE store_id = ?`, ts, ts, storeID); err != nil {
		return fmt.Errorf("stamping last_alert_sent for %s: %w", storeID, err)
	}

	return tx.Commit()
}

// GetStore returns the persisted row for storeID.
func (s *Store) GetStore(ctx context.Context, storeID string) (StoreRow, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT store_id, store_name, location, last_heartbeat, status, last_alert_sent, created_at, updated_at
		FROM stores WHERE store_id = ?`, storeID)

	r, err := scanStoreRow(row)
	if err == sql.ErrNoRows {
		return StoreRow{}, false, nil
	}
	if err != nil {
		return StoreRow{}, false, fmt.Errorf("querying store %s: %w", storeID, err)
	}
	return r, true, nil
}

// ListStores returns every persisted store row, for dashboard summaries
// and sweeper hydration.
func (s *Store) ListStores(ctx context.Context) ([]StoreRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT store_id, store_name, location, last_heartbeat, status, last_alert_sent, created_at, updated_at
		FROM stores ORDER BY store_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing stores: %w", err)
	}
	defer rows.Close()

	var out []StoreRow
	for rows.Next() {
		r, err := scanStoreRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning store row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStoreRow(row rowScanner) (StoreRow, error) {
	var r StoreRow
	var location sql.NullString
	var lastHeartbeat, lastAlertSent sql.NullTime
	var status string

	if err := row.Scan(&r.StoreID, &r.StoreName, &location, &lastHeartbeat, &status, &lastAlertSent, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return StoreRow{}, err
	}

	r.Location = location.String
	r.Status = heartbeat.Status(status)
	if lastHeartbeat.Valid {
		r.LastHeartbeat = &lastHeartbeat.Time
	}
	if lastAlertSent.Valid {
		r.LastAlertSent = &lastAlertSent.Time
	}
	return r, nil
}

// ListAlerts returns the most recent alerts across all stores, joined
// with store_name, newest first.
func (s *Store) ListAlerts(ctx context.Context, limit int) ([]AlertRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.store_id, s.store_name, a.alert_type, a.message, a.severity, a.resolved, a.resolved_at, a.timestamp
		FROM alerts a
		LEFT JOIN stores s ON s.store_id = a.store_id
		ORDER BY a.timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing alerts: %w", err)
	}
	defer rows.Close()
	return scanAlertRows(rows)
}

// ListAlertsForStore returns the most recent alerts for one store,
// newest first.
func (s *Store) ListAlertsForStore(ctx context.Context, storeID string, limit int) ([]AlertRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.store_id, s.store_name, a.alert_type, a.message, a.severity, a.resolved, a.resolved_at, a.timestamp
		FROM alerts a
		LEFT JOIN stores s ON s.store_id = a.store_id
		WHERE a.store_id = ?
		ORDER BY a.timestamp DESC
		LIMIT ?`, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing alerts for %s: %w", storeID, err)
	}
	defer rows.Close()
	return scanAlertRows(rows)
}

func scanAlertRows(rows *sql.Rows) ([]AlertRow, error) {
	var out []AlertRow
	for rows.Next() {
		var a AlertRow
		var storeName sql.NullString
		var alertType, severity string
		var resolved int
		var resolvedAt sql.NullTime

		if err := rows.Scan(&a.ID, &a.StoreID, &storeName, &alertType, &a.Message, &severity, &resolved, &resolvedAt, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning alert row: %w", err)
		}
		a.StoreName = storeName.String
		a.AlertType = heartbeat.AlertKind(alertType)
		a.Severity = heartbeat.Severity(severity)
		a.Resolved = resolved != 0
		if resolvedAt.Valid {
			a.ResolvedAt = &resolvedAt.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
