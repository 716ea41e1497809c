package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/lifecycle/internal/db"
)

// Migration represents a database schema migration.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations is the list of all database migrations in order.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "users_table",
		SQL: `
			CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				age INTEGER NOT NULL,
				created_at TEXT NOT NULL,
				updated_at TEXT
			);
		`,
	},
	{
		Version: 2,
		Name:    "users_name_index",
		SQL:     `CREATE INDEX IF NOT EXISTS idx_users_name ON users(name);`,
	},
}

// MigrationManager applies Migrations and records them in schema_versions.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// EnsureSchemaVersionsTable creates the schema_versions table if it doesn't exist.
func (m *MigrationManager) EnsureSchemaVersionsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_versions (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// AppliedVersions returns all applied migration versions.
func (m *MigrationManager) AppliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_versions")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

// Pending returns the migrations not yet applied, in order.
func (m *MigrationManager) Pending(ctx context.Context) ([]Migration, error) {
	applied, err := m.AppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}

	var pending []Migration
	for _, migration := range Migrations {
		if !applied[migration.Version] {
			pending = append(pending, migration)
		}
	}
	return pending, nil
}

// ApplyMigration runs one migration and records it in the same transaction.
func (m *MigrationManager) ApplyMigration(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("execute migration %d (%s): %w", migration.Version, migration.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_versions (version, name, applied_at) VALUES (?, ?, ?)",
		migration.Version, migration.Name, db.FormatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", migration.Version, err)
	}
	log.Debug().Int("version", migration.Version).Str("name", migration.Name).Msg("Applied migration")
	return nil
}

// RunMigrations applies all pending migrations.
func (m *MigrationManager) RunMigrations() error {
	ctx := context.Background()
	if err := m.EnsureSchemaVersionsTable(ctx); err != nil {
		return fmt.Errorf("ensure schema_versions table: %w", err)
	}

	pending, err := m.Pending(ctx)
	if err != nil {
		return err
	}
	for _, migration := range pending {
		if err := m.ApplyMigration(ctx, migration); err != nil {
			return err
		}
	}
	return nil
}
