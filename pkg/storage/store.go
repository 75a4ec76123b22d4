// Package storage persists users, posts, likes and comments in SQLite.
//
// Post and comment CRUD here is deliberately small: it exists so that mutation
// handlers can produce full post snapshots for the event bus.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rubiojr/pulse/pkg/db"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// Store wraps a SQLite database handle.
type Store struct {
	db *sql.DB
}

// connPragmas are applied to every pooled connection through the DSN.
var connPragmas = []string{
	"journal_mode(wal)",
	"synchronous(normal)",
	"busy_timeout(30000)",
	"foreign_keys(1)",
	"cache_size(-32000)",
	"temp_store(memory)",
}

// Open opens (creating if needed) the database at dbPath.
// Call Migrate before using the store.
func Open(dbPath string) (*Store, error) {
	dsn := "file:" + dbPath
	for i, pragma := range connPragmas {
		sep := "&"
		if i == 0 {
			sep = "?"
		}
		dsn += sep + "_pragma=" + pragma
	}

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening database %s: %w", dbPath, err)
	}

	return &Store{db: conn}, nil
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	return db.InitializeDatabase(ctx, s.db)
}

// DB returns the underlying handle, shared with the SQL counter store.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WALCheckpoint truncates the write-ahead log.
func (s *Store) WALCheckpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Placeholders returns "?, ?, ..." with n markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// StringArgs converts ids to a driver argument slice.
func StringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
