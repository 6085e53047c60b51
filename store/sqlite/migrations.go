package sqlite

// schema holds the idempotent DDL applied by Migrate. Timestamps are
// stored as RFC 3339 text in UTC.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	phone             TEXT NOT NULL,
	kind              TEXT NOT NULL,
	content           TEXT NOT NULL,
	priority          INTEGER NOT NULL,
	preferred_channel TEXT NOT NULL,
	max_retries       INTEGER NOT NULL,
	attempts          INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	channel_used      TEXT NOT NULL DEFAULT '',
	last_error        TEXT NOT NULL DEFAULT '',
	scheduled_for     TEXT,
	expires_at        TEXT,
	callback_url      TEXT NOT NULL DEFAULT '',
	user_id           TEXT NOT NULL DEFAULT '',
	delivered_at      TEXT,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);

CREATE TABLE IF NOT EXISTS otp_codes (
	phone      TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
`
