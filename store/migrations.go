package store

type migration struct {
	version int
	sql     string
}

// migrations must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id             INTEGER PRIMARY KEY,
	email          TEXT NOT NULL UNIQUE,
	provider       TEXT NOT NULL,
	imap_host      TEXT NOT NULL,
	imap_port      INTEGER NOT NULL,
	tls_mode       TEXT NOT NULL,
	auth_method    TEXT NOT NULL,
	credential_ref TEXT NOT NULL,
	status         TEXT NOT NULL,
	sync_state     TEXT NOT NULL DEFAULT '',
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS folders (
	id           INTEGER PRIMARY KEY,
	account_id   INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	remote_name  TEXT NOT NULL,
	display_name TEXT NOT NULL,
	delimiter    TEXT NOT NULL,
	attrs_json   TEXT NOT NULL,
	special_use  TEXT NOT NULL,
	sync_state   TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	UNIQUE(account_id, remote_name)
);

CREATE TABLE IF NOT EXISTS messages (
	id               INTEGER PRIMARY KEY,
	account_id       INTEGER NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	folder_id        INTEGER NOT NULL REFERENCES folders(id) ON DELETE CASCADE,
	provider         TEXT NOT NULL,
	remote_uid       INTEGER NOT NULL,
	message_id_hdr   TEXT NOT NULL DEFAULT '',
	from_display     TEXT NOT NULL DEFAULT '',
	subject          TEXT NOT NULL DEFAULT '',
	date_utc         TEXT NOT NULL,
	body_text        TEXT NOT NULL DEFAULT '',
	body_html        TEXT NOT NULL DEFAULT '',
	attachments_json TEXT NOT NULL DEFAULT '[]',
	is_read          INTEGER NOT NULL DEFAULT 0,
	created_at       TEXT NOT NULL,
	UNIQUE(account_id, folder_id, remote_uid)
);

CREATE TABLE IF NOT EXISTS oauth_tokens (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	provider       TEXT NOT NULL,
	email          TEXT NOT NULL,
	refresh_token  TEXT NOT NULL,
	access_token   TEXT NOT NULL DEFAULT '',
	expires_at_utc INTEGER NOT NULL DEFAULT 0,
	client_id      TEXT NOT NULL DEFAULT '',
	client_secret  TEXT NOT NULL DEFAULT '',
	created_at_utc INTEGER NOT NULL,
	updated_at_utc INTEGER NOT NULL,
	UNIQUE(provider, email)
);

CREATE TABLE IF NOT EXISTS basic_credentials (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	provider       TEXT NOT NULL,
	email          TEXT NOT NULL,
	username       TEXT NOT NULL,
	secret         TEXT NOT NULL,
	created_at_utc INTEGER NOT NULL,
	updated_at_utc INTEGER NOT NULL,
	UNIQUE(provider, email)
);

CREATE TABLE IF NOT EXISTS provider_clients (
	provider       TEXT PRIMARY KEY,
	client_id      TEXT NOT NULL,
	client_secret  TEXT NOT NULL DEFAULT '',
	updated_at_utc INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_folders_account ON folders(account_id);
CREATE INDEX IF NOT EXISTS idx_messages_folder ON messages(account_id, folder_id, date_utc);
CREATE INDEX IF NOT EXISTS idx_oauth_tokens_email ON oauth_tokens(email, updated_at_utc);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
