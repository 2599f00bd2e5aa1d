package reldb

import (
	"database/sql"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS namespaces (
	name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS repositories (
	id TEXT PRIMARY KEY,
	namespace_name TEXT NOT NULL,
	name TEXT UNIQUE NOT NULL,
	latest_version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (namespace_name) REFERENCES namespaces(name)
);

CREATE TABLE IF NOT EXISTS repository_versions (
	repository_id TEXT NOT NULL,
	number INTEGER NOT NULL,
	content_count INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (repository_id, number),
	FOREIGN KEY (repository_id) REFERENCES repositories(id)
);

CREATE TABLE IF NOT EXISTS version_content (
	repository_id TEXT NOT NULL,
	number INTEGER NOT NULL,
	digest TEXT NOT NULL,
	PRIMARY KEY (repository_id, number, digest)
);
CREATE INDEX IF NOT EXISTS idx_version_content_lookup ON version_content(repository_id, number);

CREATE TABLE IF NOT EXISTS tags (
	repository_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	name TEXT NOT NULL,
	manifest_digest TEXT NOT NULL,
	PRIMARY KEY (repository_id, version, name)
);

CREATE TABLE IF NOT EXISTS distributions (
	base_path TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL,
	visibility TEXT NOT NULL DEFAULT 'public',
	created_at DATETIME NOT NULL,
	FOREIGN KEY (repository_id) REFERENCES repositories(id)
);

CREATE TABLE IF NOT EXISTS remotes (
	name TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	mode TEXT NOT NULL,
	include_tags TEXT NOT NULL DEFAULT '',
	exclude_tags TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL DEFAULT '',
	password_ref TEXT NOT NULL DEFAULT '',
	pull_through BOOLEAN NOT NULL DEFAULT FALSE,
	max_retries INTEGER NOT NULL DEFAULT 3,
	rate_limit_qps REAL NOT NULL DEFAULT 0,
	sigstore_url TEXT NOT NULL DEFAULT '',
	policy TEXT NOT NULL DEFAULT 'immediate'
);

CREATE TABLE IF NOT EXISTS uploads (
	uuid TEXT PRIMARY KEY,
	repository TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	offset_bytes INTEGER NOT NULL DEFAULT 0,
	expected_digest TEXT NOT NULL DEFAULT '',
	temp_path TEXT NOT NULL DEFAULT ''
);
`

// Migrate creates every table the RepositoryEngine needs if they do not
// already exist.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
