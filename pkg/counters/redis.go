package counters

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rubiojr/pulse/pkg/core"
	"github.com/rubiojr/pulse/pkg/log"
)

// Lookup answers existence questions for the Redis backend, which holds counts
// but not entities.
type Lookup interface {
	ExistingPostIDs(ctx context.Context, ids []string) ([]string, error)
	UserExists(ctx context.Context, id string) (bool, error)
}

// RedisStore keeps counters as Redis integers updated with INCR.
type RedisStore struct {
	rdb    redis.UniversalClient
	lookup Lookup
	prefix string
	logger *log.Logger
}

// NewRedisStore returns a store using keys under prefix (default "pulse").
func NewRedisStore(rdb redis.UniversalClient, lookup Lookup, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pulse"
	}
	return &RedisStore{rdb: rdb, lookup: lookup, prefix: prefix, logger: log.ForService("counters")}
}

func (s *RedisStore) impressionKey(postID string) string {
	return fmt.Sprintf("%s:post:%s:impressions", s.prefix, postID)
}

func (s *RedisStore) profileViewsKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:profile_views", s.prefix, userID)
}

func (s *RedisStore) IncrementPostImpressions(ctx context.Context, ids []string) ([]core.PostImpression, error) {
	existing, err := s.lookup.ExistingPostIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	live := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		live[id] = struct{}{}
	}

	ordered := make([]string, 0, len(existing))
	for _, id := range ids {
		if _, ok := live[id]; ok {
			ordered = append(ordered, id)
		}
	}
	if len(ordered) == 0 {
		return []core.PostImpression{}, nil
	}

	cmds := make([]*redis.IntCmd, len(ordered))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ordered {
			cmds[i] = p.Incr(ctx, s.impressionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("incrementing impressions: %w", err)
	}

	result := make([]core.PostImpression, len(ordered))
	for i, id := range ordered {
		result[i] = core.PostImpression{PostID: id, Impressions: cmds[i].Val()}
	}
	s.logger.Debugf("Incremented %d of %d post impression counters", len(result), len(ids))
	return result, nil
}

func (s *RedisStore) PostImpressions(ctx context.Context, ids []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.impressionKey(id)
	}

	cmds := make([]*redis.StringCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.Get(ctx, k)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading impressions: %w", err)
	}
	for i, id := range ids {
		n, err := cmds[i].Int64()
		if errors.Is(err, redis.Nil) {
			counts[id] = 0
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading impressions for %s: %w", id, err)
		}
		counts[id] = n
	}
	return counts, nil
}

func (s *RedisStore) IncrementProfileViews(ctx context.Context, userID string) (int64, error) {
	ok, err := s.lookup.UserExists(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	n, err := s.rdb.Incr(ctx, s.profileViewsKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing profile views for %s: %w", userID, err)
	}
	return n, nil
}

func (s *RedisStore) ProfileViews(ctx context.Context, userID string) (int64, error) {
	ok, err := s.lookup.UserExists(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotFound
	}
	n, err := s.rdb.Get(ctx, s.profileViewsKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading profile views for %s: %w", userID, err)
	}
	return n, nil
}
