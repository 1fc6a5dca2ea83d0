package journal

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration is one schema step.
type Migration struct {
	Version     int
	Description string
	Up          string
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Transactions table",
		Up: `
CREATE TABLE IF NOT EXISTS transactions (
    id              TEXT PRIMARY KEY,
    started_ns      INTEGER NOT NULL,
    duration_ns     INTEGER NOT NULL,
    panel1          TEXT NOT NULL,
    panel2          TEXT NOT NULL,
    rotation1       INTEGER NOT NULL,
    rotation2       INTEGER NOT NULL,
    enabled1        INTEGER NOT NULL,
    enabled2        INTEGER NOT NULL,
    primary_panel   TEXT,
    outcome         TEXT NOT NULL,
    error           TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_started ON transactions(started_ns);
`,
	},
	{
		Version:     2,
		Description: "Record legacy shortcuts and soft failures",
		Up: `
ALTER TABLE transactions ADD COLUMN shortcut INTEGER NOT NULL DEFAULT 0;
ALTER TABLE transactions ADD COLUMN soft_failures TEXT;
CREATE INDEX IF NOT EXISTS idx_transactions_outcome ON transactions(outcome, started_ns);
`,
	},
}

// MigrateDB applies all pending migrations, each in its own transaction.
func MigrateDB(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a new database.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

// LatestVersion is the schema version MigrateDB produces.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}
