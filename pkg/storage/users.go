package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rubiojr/pulse/pkg/core"
)

// EnsureUser creates the user row for id if it does not exist yet. Accounts
// are issued by the external token service; rows are provisioned lazily on the
// first authenticated request.
func (s *Store) EnsureUser(ctx context.Context, id, displayName string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, displayName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensuring user %s: %w", id, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (core.User, error) {
	var u core.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, created_at, profile_views_total FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.DisplayName, &u.CreatedAt, &u.ProfileViewsTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("loading user %s: %w", id, err)
	}
	return u, nil
}

// UserExists reports whether a user row exists for id.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking user %s: %w", id, err)
	}
	return true, nil
}
