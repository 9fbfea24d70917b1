package engine

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// OpenDB opens the sqlite database at dsn, brings the schema up to date, and
// returns a ready Store. Migration happens in two layers: versioned SQL files
// for the audit tables (release_events), then CREATE TABLE IF NOT EXISTS
// derived from each resource definition.
func OpenDB(dsn string, resources []Resource, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := migrateAuditTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := migrateResourceTables(db, resources, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migrations: %w", err)
	}

	store, err := NewStore(db, resources)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func migrateAuditTables(db *sqlx.DB) error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{NoTxWrap: true})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func migrateResourceTables(db *sqlx.DB, resources []Resource, logger *slog.Logger) error {
	for _, res := range resources {
		logger.Debug("ensuring table", "resource", res.Name)
		if _, err := db.Exec(res.GenerateCreateSQL()); err != nil {
			return fmt.Errorf("create table %s: %w", res.Name, err)
		}
	}

	// Columns added after a table first shipped. CREATE TABLE IF NOT EXISTS
	// won't add them to existing databases, and sqlite's ALTER TABLE ADD
	// COLUMN requires constant defaults, so a failure here means the column
	// already exists.
	additions := []string{
		`ALTER TABLE releases ADD COLUMN severity TEXT DEFAULT 'none'`,
		`ALTER TABLE releases ADD COLUMN recommendation TEXT DEFAULT 'continue'`,
		`ALTER TABLE backups ADD COLUMN remote_key TEXT`,
	}
	for _, stmt := range additions {
		if _, err := db.Exec(stmt); err != nil {
			logger.Debug("alter table skipped", "sql", stmt, "error", err)
		}
	}
	return nil
}
