package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

func (s *Store) schemaVersion() string {
	var version string
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version); err != nil {
		return ""
	}
	return version
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		social_account_id   INTEGER PRIMARY KEY,
		owner               TEXT NOT NULL DEFAULT '',
		screen_name         TEXT NOT NULL DEFAULT '',
		active              INTEGER NOT NULL DEFAULT 0,
		retention_hours     INTEGER NOT NULL DEFAULT 48,
		activated_at        INTEGER,
		activated_status_id INTEGER NOT NULL DEFAULT 0,
		access_token        TEXT,
		refresh_token       TEXT,
		token_expiry        INTEGER,
		created_at          INTEGER NOT NULL,
		updated_at          INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_active ON accounts(active, social_account_id);
	CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		actor TEXT NOT NULL,
		action TEXT NOT NULL,
		resource TEXT,
		result TEXT NOT NULL,
		details TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}
	return nil
}

func (s *Store) migrateV2() error {
	if s.schemaVersion() >= "2" {
		return nil
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sweep_runs (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id          TEXT NOT NULL,
		account_id      INTEGER NOT NULL,
		posts_deleted   INTEGER NOT NULL DEFAULT 0,
		delete_failures INTEGER NOT NULL DEFAULT 0,
		reason          TEXT NOT NULL,
		error           TEXT,
		started_at      INTEGER NOT NULL,
		finished_at     INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_account ON sweep_runs(account_id, finished_at);
	CREATE INDEX IF NOT EXISTS idx_runs_run ON sweep_runs(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_finished ON sweep_runs(finished_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v2: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}
