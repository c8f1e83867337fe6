package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, 60*time.Second)
}

func seedEntries(t *testing.T, s *Store, key string, n int, base int64) TimeSeries {
	entries := make(TimeSeries, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, Entry{ID: fmt.Sprintf("item-%03d", i), Score: base + int64(i)*1000})
	}
	require.NoError(t, s.AddEntries(context.Background(), key, entries))
	return entries
}

func TestGetTimeSeriesExcludesCursor(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	base := int64(1_000_000)
	seedEntries(t, s, "user:u1:feed", 20, base)

	cursor := base + 10*1000 // exact score of item-010
	ts, err := s.GetTimeSeries(ctx, "user:u1:feed", cursor, 50)
	require.NoError(t, err)
	require.Len(t, ts, 10)
	for _, e := range ts {
		require.Less(t, e.Score, cursor)
	}
	// newest first
	require.Equal(t, "item-009", ts[0].ID)
	require.Equal(t, "item-000", ts[len(ts)-1].ID)
}

func TestGetTimeSeriesEmptyKey(t *testing.T) {
	s := setupStore(t)
	ts, err := s.GetTimeSeries(context.Background(), "user:nobody:feed", time.Now().UnixMilli(), 10)
	require.NoError(t, err)
	require.Empty(t, ts)
}

func TestPaginationContinuity(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	base := int64(1_000_000)
	seedEntries(t, s, "user:u1:feed", 47, base)

	for _, limit := range []int64{1, 5, 10, 50} {
		var collected []string
		cursor := base + 1000*1000
		for {
			ts, err := s.GetTimeSeries(ctx, "user:u1:feed", cursor, limit)
			require.NoError(t, err)
			if len(ts) == 0 {
				break
			}
			for _, e := range ts {
				collected = append(collected, e.ID)
			}
			cursor = ts.TimeTo()
		}
		require.Len(t, collected, 47, "limit=%d", limit)
		// no duplicates, no gaps: full descending sequence
		for i, id := range collected {
			require.Equal(t, fmt.Sprintf("item-%03d", 46-i), id, "limit=%d", limit)
		}
	}
}

func TestAddEntriesIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	entries := seedEntries(t, s, "user:u1:profile", 5, 1_000_000)
	require.NoError(t, s.AddEntries(ctx, "user:u1:profile", entries))

	n, err := s.Client().ZCard(ctx, "user:u1:profile").Result()
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
}

func TestProjectionRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	key := FeedKey("abc")
	require.NoError(t, s.SetProjection(ctx, key, map[string]interface{}{"uuid": "abc", "comment": "hi"}))

	fields, err := s.GetProjection(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "abc", fields["uuid"])

	ttl, err := s.Client().TTL(ctx, key).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}
