package storage

import (
	"database/sql"
	"fmt"
)

var migrations = []string{
	// Migration 1: usage ledger
	`CREATE TABLE IF NOT EXISTS usage_records (
		id            TEXT PRIMARY KEY,
		tenant_id     TEXT NOT NULL,
		provider      TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		user_id       TEXT NOT NULL DEFAULT '',
		feature       TEXT NOT NULL DEFAULT '',
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		amount        REAL NOT NULL DEFAULT 0.0,
		timestamp     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_usage_tenant ON usage_records(tenant_id);
	CREATE INDEX IF NOT EXISTS idx_usage_provider ON usage_records(provider);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_model ON usage_records(model);`,

	// Migration 2: monitor snapshot
	`CREATE TABLE IF NOT EXISTS policies (
		tenant_id          TEXT PRIMARY KEY,
		limits             TEXT NOT NULL,
		hard_limit         REAL NOT NULL,
		window_limit       REAL NOT NULL DEFAULT 0.0,
		auto_restrict      INTEGER NOT NULL DEFAULT 0,
		grace_period_hours REAL NOT NULL DEFAULT 24.0,
		period             TEXT NOT NULL CHECK(period IN ('daily', 'weekly', 'monthly')),
		window_period      TEXT NOT NULL CHECK(window_period IN ('daily', 'weekly', 'monthly'))
	);

	CREATE TABLE IF NOT EXISTS usage_states (
		tenant_id        TEXT PRIMARY KEY,
		cumulative_value REAL NOT NULL DEFAULT 0.0,
		windowed_value   REAL NOT NULL DEFAULT 0.0,
		peak_value       REAL NOT NULL DEFAULT 0.0,
		last_fraction    REAL NOT NULL DEFAULT 0.0,
		period_start     DATETIME NOT NULL,
		window_start     DATETIME NOT NULL,
		updated_at       DATETIME NOT NULL,
		by_model         TEXT NOT NULL DEFAULT 'null',
		by_user          TEXT NOT NULL DEFAULT 'null',
		by_feature       TEXT NOT NULL DEFAULT 'null'
	);

	CREATE TABLE IF NOT EXISTS restrictive_states (
		tenant_id     TEXT PRIMARY KEY,
		active        INTEGER NOT NULL DEFAULT 0,
		automatic     INTEGER NOT NULL DEFAULT 0,
		reason        TEXT NOT NULL DEFAULT '',
		activated_at  DATETIME,
		grace_active  INTEGER NOT NULL DEFAULT 0,
		grace_ends_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id                    TEXT PRIMARY KEY,
		seq                   INTEGER NOT NULL,
		tenant_id             TEXT NOT NULL,
		tier                  TEXT NOT NULL,
		severity              TEXT NOT NULL,
		message               TEXT NOT NULL DEFAULT '',
		triggered_at_fraction REAL NOT NULL,
		value                 REAL NOT NULL,
		hard_limit            REAL NOT NULL,
		timestamp             DATETIME NOT NULL,
		acknowledged          INTEGER NOT NULL DEFAULT 0,
		acknowledged_by       TEXT NOT NULL DEFAULT '',
		acknowledged_at       DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_tenant ON alerts(tenant_id, seq);

	CREATE TABLE IF NOT EXISTS window_history (
		tenant_id    TEXT NOT NULL,
		seq          INTEGER NOT NULL,
		window_start DATETIME NOT NULL,
		value        REAL NOT NULL,
		PRIMARY KEY (tenant_id, seq)
	);

	CREATE TABLE IF NOT EXISTS snapshot_meta (
		id       INTEGER PRIMARY KEY CHECK(id = 1),
		taken_at DATETIME NOT NULL
	);`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB) error {
	// Ensure migration tracking table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
