package journal

const Schema = `
CREATE TABLE IF NOT EXISTS broker_accounts (
	id TEXT PRIMARY KEY,
	remote_id TEXT NOT NULL UNIQUE,
	user_id TEXT NOT NULL,
	broker_name TEXT NOT NULL,
	platform TEXT NOT NULL,
	server TEXT NOT NULL,
	account_number TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	last_synced_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_broker_accounts_user ON broker_accounts(user_id, status);
`
