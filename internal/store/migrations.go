package store

const schema = `
-- Per-store liveness row, upserted on every heartbeat and by the sweeper.
CREATE TABLE IF NOT EXISTS stores (
    store_id        TEXT PRIMARY KEY,
    store_name      TEXT NOT NULL,
    location        TEXT,
    last_heartbeat  TIMESTAMP,
    status          TEXT NOT NULL DEFAULT 'unknown',
    last_alert_sent TIMESTAMP,
    created_at      TIMESTAMP NOT NULL,
    updated_at      TIMESTAMP NOT NULL
);

-- Append-only record of every accepted heartbeat, full payload retained
-- for replay/debugging.
CREATE TABLE IF NOT EXISTS heartbeat_history (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    store_id          TEXT NOT NULL REFERENCES stores(store_id),
    timestamp         TIMESTAMP NOT NULL,
    cpu_usage         REAL,
    memory_usage      REAL,
    disk_free_gb      REAL,
    active_cameras    INTEGER,
    total_cameras     INTEGER,
    network_connected INTEGER,
    payload           TEXT NOT NULL,
    created_at        TIMESTAMP NOT NULL
);

-- Append-only system-telemetry time series, narrower than
-- heartbeat_history's full payload, for cheap charting queries.
CREATE TABLE IF NOT EXISTS system_stats (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    store_id              TEXT NOT NULL REFERENCES stores(store_id),
    timestamp             TIMESTAMP NOT NULL,
    cpu_usage             REAL,
    memory_usage          REAL,
    memory_available_gb   REAL,
    disk_free_gb          REAL,
    disk_usage_percent    REAL,
    process_memory_mb     REAL,
    uptime_hours          REAL,
    network_connected     INTEGER,
    created_at            TIMESTAMP NOT NULL
);

-- Append-only alert log. alert_type is wider than the narrow enum the
-- source persists: startup and recovery are first-class here rather
-- than coerced into "test" (see DESIGN.md).
CREATE TABLE IF NOT EXISTS alerts (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    store_id    TEXT NOT NULL REFERENCES stores(store_id),
    alert_type  TEXT NOT NULL,
    message     TEXT NOT NULL,
    severity    TEXT NOT NULL,
    resolved    INTEGER NOT NULL DEFAULT 0,
    resolved_at TIMESTAMP,
    timestamp   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_heartbeat_history_store_ts ON heartbeat_history(store_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_system_stats_store_ts ON system_stats(store_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_alerts_store_ts ON alerts(store_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(timestamp);
`
