package memory

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 3

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is applied in order; each step runs once, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "kv: conversation state and workflow sessions",
		SQL: `
		CREATE TABLE IF NOT EXISTS kv (
			key         TEXT PRIMARY KEY,
			value       BLOB NOT NULL,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_kv_updated ON kv(updated_at);
		`,
	},
	{
		Version:     2,
		Description: "records: entity repository",
		SQL: `
		CREATE TABLE IF NOT EXISTS records (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL DEFAULT '',
			entity      TEXT NOT NULL,
			data        TEXT NOT NULL DEFAULT '{}',
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_records_owner ON records(user_id, entity, created_at);
		`,
	},
	{
		Version:     3,
		Description: "records: search text column",
		SQL: `
		ALTER TABLE records ADD COLUMN search TEXT NOT NULL DEFAULT '';
		CREATE INDEX IF NOT EXISTS idx_records_entity ON records(entity);
		`,
	},
}

const recordVersion = "INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)"

// RunMigrations brings db up to schemaVersion.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)
		if err := applyInTx(db, m); err != nil {
			// A database upgraded by hand may already carry part of a step.
			logger.Warn("migration failed as a whole, retrying statement by statement", "version", m.Version, "err", err)
			if err := applyEach(db, m, logger); err != nil {
				return err
			}
		}
		logger.Info("migration applied", "version", m.Version)
	}
	return nil
}

func applyInTx(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration v%d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(recordVersion, m.Version, m.Description); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return tx.Commit()
}

// applyEach runs the statements of m one at a time, tolerating objects that
// already exist.
func applyEach(db *sql.DB, m migration, logger *slog.Logger) error {
	for _, stmt := range statements(m.SQL) {
		_, err := db.Exec(stmt)
		if err == nil {
			continue
		}
		if alreadyApplied(err) {
			logger.Debug("migration statement already applied", "version", m.Version, "stmt", abbreviate(stmt, 60))
			continue
		}
		return fmt.Errorf("migration v%d: %w (in %q)", m.Version, err, abbreviate(stmt, 200))
	}
	if _, err := db.Exec(recordVersion, m.Version, m.Description); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

func alreadyApplied(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

// GetSchemaVersion returns the highest applied migration, 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}

func statements(script string) []string {
	var out []string
	for _, stmt := range strings.Split(script, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
