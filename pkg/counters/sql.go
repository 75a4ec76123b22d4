package counters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/log"
	"github.com/rubiojr/pulse/pkg/storage"
)

// SQLStore keeps counters in the posts and users tables.
type SQLStore struct {
	db     *sql.DB
	logger *log.Logger
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, logger: log.ForService("counters")}
}

func (s *SQLStore) IncrementPostImpressions(ctx context.Context, ids []string) ([]core.PostImpression, error) {
	if len(ids) == 0 {
		return []core.PostImpression{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				s.logger.Warnf("Failed to rollback impressions transaction: %v", err)
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`UPDATE posts SET impressions = impressions + 1
		 WHERE id = ? AND deleted_at IS NULL
		 RETURNING impressions`)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	result := make([]core.PostImpression, 0, len(ids))
	for _, id := range ids {
		var n int64
		err := stmt.QueryRowContext(ctx, id).Scan(&n)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("incrementing impressions for %s: %w", id, err)
		}
		result = append(result, core.PostImpression{PostID: id, Impressions: n})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing impressions: %w", err)
	}
	committed = true
	s.logger.Debugf("Incremented %d of %d post impression counters", len(result), len(ids))
	return result, nil
}

func (s *SQLStore) PostImpressions(ctx context.Context, ids []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, impressions FROM posts WHERE id IN (`+storage.Placeholders(len(ids))+`)`,
		storage.StringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("reading impressions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		var n int64
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (s *SQLStore) IncrementProfileViews(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE users SET profile_views_total = profile_views_total + 1
		 WHERE id = ? RETURNING profile_views_total`, userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing profile views for %s: %w", userID, err)
	}
	return n, nil
}

func (s *SQLStore) ProfileViews(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT profile_views_total FROM users WHERE id = ?`, userID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("reading profile views for %s: %w", userID, err)
	}
	return n, nil
}
