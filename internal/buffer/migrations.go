package buffer

const schema = `
CREATE TABLE IF NOT EXISTS heartbeat_buffer (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  DATETIME NOT NULL,
	data       TEXT NOT NULL,
	sent       BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_heartbeat_buffer_sent ON heartbeat_buffer(sent);
CREATE INDEX IF NOT EXISTS idx_heartbeat_buffer_created_at ON heartbeat_buffer(created_at);
`
