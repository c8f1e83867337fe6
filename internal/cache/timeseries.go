package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one (item id, time score) pair of a sorted-set time index.
// Score is a millisecond unix timestamp and doubles as the pagination cursor.
type Entry struct {
	ID    string
	Score int64
}

// TimeSeries is a page of entries in descending score order.
type TimeSeries []Entry

// IDs returns the item ids in page order.
func (ts TimeSeries) IDs() []string {
	ids := make([]string, len(ts))
	for i, e := range ts {
		ids[i] = e.ID
	}
	return ids
}

// TimeTo returns the score of the last (oldest) entry, i.e. the next cursor.
func (ts TimeSeries) TimeTo() int64 {
	if len(ts) == 0 {
		return 0
	}
	return ts[len(ts)-1].Score
}

// Concat appends another page after this one.
func (ts TimeSeries) Concat(other TimeSeries) TimeSeries {
	return append(append(TimeSeries{}, ts...), other...)
}

// Store wraps the Redis client with the timeline access patterns:
// score-ordered indices per subject plus hash projections per feed.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func (s *Store) Client() *redis.Client { return s.rdb }

func (s *Store) TTL() time.Duration { return s.ttl }

// GetTimeSeries reads up to limit entries with score strictly below cursor,
// newest first. The parenthesis bound excludes the cursor element itself so
// successive pages never repeat the boundary entry.
func (s *Store) GetTimeSeries(ctx context.Context, key string, cursor int64, limit int64) (TimeSeries, error) {
	zs, err := s.rdb.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("(%d", cursor),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	ts := make(TimeSeries, 0, len(zs))
	for _, z := range zs {
		ts = append(ts, Entry{ID: z.Member.(string), Score: int64(z.Score)})
	}
	return ts, nil
}

// AddEntries writes a batch of entries into one subject index with a TTL
// refresh, as a single pipeline round trip. Re-adding an existing member at
// the same score is a no-op, so callers may safely replay batches.
func (s *Store) AddEntries(ctx context.Context, key string, entries TimeSeries) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(e.Score), Member: e.ID})
		}
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

// Exists reports whether the subject index currently has a warm cache.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// SetProjection caches the denormalized field map of a feed.
func (s *Store) SetProjection(ctx context.Context, key string, fields map[string]interface{}) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	return err
}

// GetProjection returns the cached field map; empty map means cache miss.
func (s *Store) GetProjection(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}
