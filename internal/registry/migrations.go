package registry

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS connectors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			type TEXT NOT NULL,
			alias TEXT NOT NULL DEFAULT '',
			org_id TEXT NOT NULL DEFAULT '',
			config_cipher TEXT NOT NULL DEFAULT '',
			creds_cipher TEXT NOT NULL DEFAULT '',
			read_only INTEGER NOT NULL DEFAULT 1,
			is_active INTEGER NOT NULL DEFAULT 1,
			test_status TEXT NOT NULL DEFAULT 'untested',
			default_query TEXT NOT NULL DEFAULT '',
			timeout_ms INTEGER NOT NULL DEFAULT 30000,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS access_tokens (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			token_hash TEXT UNIQUE NOT NULL,
			token_prefix TEXT NOT NULL,
			connector_id INTEGER NOT NULL REFERENCES connectors(id),
			resource TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			expires_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS share_links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			share_id TEXT UNIQUE NOT NULL,
			connector_id INTEGER NOT NULL REFERENCES connectors(id),
			resource TEXT NOT NULL DEFAULT '',
			expires_at DATETIME NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			use_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS admins (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_access_tokens_hash ON access_tokens(token_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_share_links_share_id ON share_links(share_id)`,
		`CREATE INDEX IF NOT EXISTS idx_connectors_name ON connectors(name)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// SQLite ALTER TABLE ADD COLUMN fails if column already exists;
			// treat "duplicate column" as a no-op for idempotent migrations.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
