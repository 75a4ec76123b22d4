// Package counters holds the engagement counters: post impressions and profile
// views. Counters start at zero, are only ever incremented, and every increment
// is a single atomic operation in the backend, never a read-modify-write in Go.
package counters

import (
	"context"
	"errors"

	"github.com/rubiojr/pulse/pkg/core"
)

// ErrNotFound is returned when the counter owner does not exist.
var ErrNotFound = errors.New("counter owner not found")

// Store is implemented by every counter backend.
type Store interface {
	// IncrementPostImpressions adds one to each post in ids and returns the new
	// values, in request order, for the posts that exist. Unknown and deleted
	// posts are omitted.
	IncrementPostImpressions(ctx context.Context, ids []string) ([]core.PostImpression, error)
	// PostImpressions reads the current values for ids. Missing posts read as 0.
	PostImpressions(ctx context.Context, ids []string) (map[string]int64, error)
	// IncrementProfileViews adds one to the user's profile view total.
	IncrementProfileViews(ctx context.Context, userID string) (int64, error)
	ProfileViews(ctx context.Context, userID string) (int64, error)
}

// OverlayImpressions replaces the impression counts of posts with the values
// held by s.
func OverlayImpressions(ctx context.Context, s Store, posts []core.Post) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	counts, err := s.PostImpressions(ctx, ids)
	if err != nil {
		return err
	}
	for i := range posts {
		posts[i].Impressions = counts[posts[i].ID]
	}
	return nil
}
