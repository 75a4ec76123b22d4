package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rubiojr/pulse/pkg/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is a single versioned schema change loaded from NNN_name.sql.
type Migration struct {
	Version   int
	Name      string
	SQL       string
	AppliedAt *time.Time
}

// MigrationStatus groups migrations by state.
type MigrationStatus struct {
	Applied   []Migration
	Pending   []Migration
	Available []Migration
}

// MigrationManager applies migrations from an fs.FS rooted at a directory of
// .sql files. The embedded set is used unless a directory is given.
type MigrationManager struct {
	db     *sql.DB
	source fs.FS
	dir    string
	logger *log.Logger
}

// NewMigrationManager uses the embedded migrations.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db, source: migrationsFS, dir: "migrations", logger: log.ForService("migrate")}
}

// NewMigrationManagerFromPath loads migrations from a directory on disk.
func NewMigrationManagerFromPath(db *sql.DB, dir string) *MigrationManager {
	return &MigrationManager{db: db, source: os.DirFS(dir), dir: ".", logger: log.ForService("migrate")}
}

// EnsureMigrationsTable creates the bookkeeping table if needed.
func (m *MigrationManager) EnsureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	return err
}

func (m *MigrationManager) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Available returns every migration in the source, sorted by version.
func (m *MigrationManager) Available() ([]Migration, error) {
	entries, err := fs.ReadDir(m.source, m.dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		version, name, ok := parseMigrationName(entry.Name())
		if !ok {
			continue
		}
		content, err := fs.ReadFile(m.source, path.Join(m.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading migration file %s: %w", entry.Name(), err)
		}
		migrations = append(migrations, Migration{Version: version, Name: name, SQL: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseMigrationName splits "001_initial.sql" into (1, "initial").
func parseMigrationName(file string) (int, string, bool) {
	if !strings.HasSuffix(file, ".sql") {
		return 0, "", false
	}
	parts := strings.SplitN(strings.TrimSuffix(file, ".sql"), "_", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return version, parts[1], true
}

// Status reports applied and pending migrations.
func (m *MigrationManager) Status(ctx context.Context) (*MigrationStatus, error) {
	if err := m.EnsureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("ensuring migrations table: %w", err)
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	available, err := m.Available()
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{Available: available}
	for _, mig := range available {
		if at, ok := applied[mig.Version]; ok {
			mig.AppliedAt = &at
			status.Applied = append(status.Applied, mig)
		} else {
			status.Pending = append(status.Pending, mig)
		}
	}
	return status, nil
}

// Apply runs one migration and records it in a single transaction.
func (m *MigrationManager) Apply(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return fmt.Errorf("executing migration %d: %w", mig.Version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (version) VALUES (?)", mig.Version); err != nil {
		return fmt.Errorf("recording migration %d: %w", mig.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", mig.Version, err)
	}
	committed = true
	return nil
}

// ApplyPending applies every pending migration in version order and returns
// how many were applied.
func (m *MigrationManager) ApplyPending(ctx context.Context) (int, error) {
	status, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}
	for _, mig := range status.Pending {
		m.logger.Infof("applying migration %03d %s", mig.Version, mig.Name)
		if err := m.Apply(ctx, mig); err != nil {
			return 0, fmt.Errorf("applying migration %d (%s): %w", mig.Version, mig.Name, err)
		}
	}
	return len(status.Pending), nil
}

// InitializeDatabase brings db up to the embedded schema.
func InitializeDatabase(ctx context.Context, db *sql.DB) error {
	if _, err := NewMigrationManager(db).ApplyPending(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
