package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d60-Lab/feed-engine/internal/cache"
	"github.com/d60-Lab/feed-engine/internal/model"
	"github.com/d60-Lab/feed-engine/internal/repository"
)

type testEnv struct {
	rdb    *redis.Client
	db     *gorm.DB
	store  *cache.Store
	buffer *cache.StorageBuffer
	feeds  repository.FeedRepository
	bcast  *Broadcaster
	svc    *FeedService
}

// setupEnv 搭一套完整栈（miniredis + sqlite），不启动异步 worker，
// 测试里直接同步调用 handler 保证确定性
func setupEnv(t *testing.T) *testEnv {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Feed{}, &model.Fan{}))

	store := cache.NewStore(rdb, 60*time.Second)
	buffer := cache.NewStorageBuffer(store, 10*time.Second)
	feedRepo := repository.NewFeedRepository(db)
	userRepo := repository.NewUserRepository(db)
	directory := NewSubscribeToAll(store, userRepo)
	bcast := NewBroadcaster(store, directory, 50, 0)
	svc := NewFeedService(store, buffer, feedRepo, userRepo, directory, bcast, 100, Options{PreloadBatchSize: 100})

	return &testEnv{rdb: rdb, db: db, store: store, buffer: buffer, feeds: feedRepo, bcast: bcast, svc: svc}
}

func (e *testEnv) register(t *testing.T, id string) {
	t.Helper()
	u := &model.User{ID: id, Username: id, Email: id + "@example.com"}
	require.NoError(t, e.svc.Register(context.Background(), u))
}

// warm 给用户的关注流塞一个旧条目，使其在扇出时被视为活跃
func (e *testEnv) warm(t *testing.T, userID string) {
	t.Helper()
	err := e.store.AddEntries(context.Background(), cache.UserFeedKey(userID),
		cache.TimeSeries{{ID: "seed", Score: time.Now().Add(-time.Hour).UnixMilli()}})
	require.NoError(t, err)
}

func (e *testEnv) seedDB(t *testing.T, userID string, n int, base time.Time) []*model.Feed {
	t.Helper()
	feeds := make([]*model.Feed, 0, n)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		feeds = append(feeds, &model.Feed{
			UUID:      fmt.Sprintf("%s-db%03d", userID, i),
			UserID:    userID,
			Comment:   fmt.Sprintf("seeded %d", i),
			CreatedAt: at,
			UpdatedAt: at,
		})
	}
	require.NoError(t, e.feeds.BulkInsert(context.Background(), feeds))
	return feeds
}

func TestPostWritesProjectionIndexAndBuffer(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.register(t, "u1")

	feed, err := e.svc.Post(ctx, "u1", "hello world")
	require.NoError(t, err)
	require.NotEmpty(t, feed.UUID)

	// 投影带 TTL
	fields, err := e.store.GetProjection(ctx, cache.FeedKey(feed.UUID))
	require.NoError(t, err)
	got, ok := model.FeedFromProjection(fields)
	require.True(t, ok)
	require.Equal(t, "hello world", got.Comment)
	ttl, err := e.rdb.TTL(ctx, cache.FeedKey(feed.UUID)).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))

	// 主页索引按发帖时间打分
	score, err := e.rdb.ZScore(ctx, cache.UserProfileKey("u1"), feed.UUID).Result()
	require.NoError(t, err)
	require.EqualValues(t, feed.Score(), int64(score))

	// insert buffer 持有该条
	ts, err := e.buffer.Get(ctx, time.Now().UnixMilli()+1000, 10)
	require.NoError(t, err)
	require.Contains(t, ts.IDs(), feed.UUID)
}

func TestFanoutReachesOnlyActiveSubscribers(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.register(t, "alice") // 活跃
	e.register(t, "bob")   // 冷用户
	e.register(t, "carol") // 作者
	e.warm(t, "alice")

	feed, err := e.svc.Post(ctx, "carol", "fanout me")
	require.NoError(t, err)
	require.NoError(t, e.bcast.Broadcast(ctx, feed))

	_, err = e.rdb.ZScore(ctx, cache.UserFeedKey("alice"), feed.UUID).Result()
	require.NoError(t, err)
	_, err = e.rdb.ZScore(ctx, cache.UserFeedKey("carol"), feed.UUID).Result()
	require.NoError(t, err)

	exists, err := e.rdb.Exists(ctx, cache.UserFeedKey("bob")).Result()
	require.NoError(t, err)
	require.Zero(t, exists)

	// 重跑幂等：不产生重复
	require.NoError(t, e.bcast.Broadcast(ctx, feed))
	n, err := e.rdb.ZCard(ctx, cache.UserFeedKey("alice")).Result()
	require.NoError(t, err)
	require.EqualValues(t, 2, n) // seed + feed
}

func TestPersistRespectsBufferWindow(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.register(t, "u1")

	feed, err := e.svc.Post(ctx, "u1", "will be durable")
	require.NoError(t, err)

	// 窗口内：db 不应有
	require.NoError(t, e.svc.Persist(ctx))
	row, err := e.feeds.FindByUUID(ctx, feed.UUID)
	require.NoError(t, err)
	require.Nil(t, row)

	// 过窗后：落库且缓冲清空
	e.buffer.SetClock(func() time.Time { return time.Now().Add(11 * time.Second) })
	require.NoError(t, e.svc.Persist(ctx))
	row, err = e.feeds.FindByUUID(ctx, feed.UUID)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.Equal(t, "will be durable", row.Comment)

	ts, err := e.buffer.Get(ctx, time.Now().Add(time.Minute).UnixMilli(), 10)
	require.NoError(t, err)
	require.Empty(t, ts)
}

func TestDeleteCancelsBufferedInsert(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.register(t, "u1")

	feed, err := e.svc.Post(ctx, "u1", "short lived")
	require.NoError(t, err)
	require.NoError(t, e.svc.Delete(ctx, feed.UUID))

	// 该条永远到不了 db
	e.buffer.SetClock(func() time.Time { return time.Now().Add(11 * time.Second) })
	require.NoError(t, e.svc.Persist(ctx))
	row, err := e.feeds.FindByUUID(ctx, feed.UUID)
	require.NoError(t, err)
	require.Nil(t, row)

	// 投影也没了
	fields, err := e.store.GetProjection(ctx, cache.FeedKey(feed.UUID))
	require.NoError(t, err)
	require.Empty(t, fields)
}

func TestDeleteRemovesPersistedFeed(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.register(t, "u1")

	feed, err := e.svc.Post(ctx, "u1", "durable then gone")
	require.NoError(t, err)
	e.buffer.SetClock(func() time.Time { return time.Now().Add(11 * time.Second) })
	require.NoError(t, e.svc.Persist(ctx))

	require.NoError(t, e.svc.Delete(ctx, feed.UUID))
	e.buffer.SetClock(func() time.Time { return time.Now().Add(22 * time.Second) })
	require.NoError(t, e.svc.Persist(ctx))

	row, err := e.feeds.FindByUUID(ctx, feed.UUID)
	require.NoError(t, err)
	require.Nil(t, row)
}

func TestProfilePaginationFallsThroughToDB(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.register(t, "u1")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	seeded := e.seedDB(t, "u1", 30, base)

	var collected []string
	cursor := int64(0)
	for {
		page, err := e.svc.GetProfile(ctx, "u1", cursor, 10)
		require.NoError(t, err)
		if len(page.Items) == 0 {
			break
		}
		require.LessOrEqual(t, len(page.Items), 10)
		for _, f := range page.Items {
			collected = append(collected, f.UUID)
		}
		cursor = page.NextCursor()
	}

	// 整条倒序序列，无重复无缺口
	require.Len(t, collected, 30)
	for i, id := range collected {
		require.Equal(t, seeded[29-i].UUID, id)
	}

	// 命中 db 触发了预热事件
	require.Greater(t, e.svc.Dispatcher().QueueLen(), 0)
}

func TestFeedMergesBufferAndDB(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.register(t, "author")
	e.register(t, "reader")
	e.seedDB(t, "author", 5, time.Now().Add(-time.Hour).Truncate(time.Second))

	// 两条还没落库的新帖
	f1, err := e.svc.Post(ctx, "author", "pending 1")
	require.NoError(t, err)
	f2, err := e.svc.Post(ctx, "author", "pending 2")
	require.NoError(t, err)

	page, err := e.svc.GetFeed(ctx, "reader", time.Now().UnixMilli()+1000, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 7)

	// 缓冲里的新帖排最前，随后是 db 回源的旧帖
	require.ElementsMatch(t, []string{f1.UUID, f2.UUID}, []string{page.Items[0].UUID, page.Items[1].UUID})
	for i := 1; i < len(page.Items); i++ {
		require.False(t, page.Items[i].CreatedAt.After(page.Items[i-1].CreatedAt))
	}
}

func TestPreloadIsIdempotent(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.register(t, "u1")
	seeded := e.seedDB(t, "u1", 5, time.Now().Add(-time.Hour).Truncate(time.Second))

	require.NoError(t, e.svc.Preload(ctx, "u1", KindProfile, 0))
	require.NoError(t, e.svc.Preload(ctx, "u1", KindProfile, 0))

	n, err := e.rdb.ZCard(ctx, cache.UserProfileKey("u1")).Result()
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	score, err := e.rdb.ZScore(ctx, cache.UserProfileKey("u1"), seeded[0].UUID).Result()
	require.NoError(t, err)
	require.EqualValues(t, seeded[0].Score(), int64(score))
}

func TestEmptySubjectReturnsEmptyPage(t *testing.T) {
	e := setupEnv(t)
	e.register(t, "u1")

	page, err := e.svc.GetProfile(context.Background(), "u1", 0, 10)
	require.NoError(t, err)
	require.Empty(t, page.Items)
	require.Zero(t, page.NextCursor())
	// 空库不触发预热
	require.Zero(t, e.svc.Dispatcher().QueueLen())
}

func TestInvalidInputRejected(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()

	_, err := e.svc.GetFeed(ctx, "u1", 0, 0)
	require.ErrorIs(t, err, ErrInvalidLimit)
	_, err = e.svc.GetProfile(ctx, "u1", 0, -5)
	require.ErrorIs(t, err, ErrInvalidLimit)
	_, err = e.svc.GetFeed(ctx, "", 0, 10)
	require.ErrorIs(t, err, ErrInvalidUser)
	_, err = e.svc.Post(ctx, "", "hi")
	require.ErrorIs(t, err, ErrInvalidUser)
	_, err = e.svc.Post(ctx, "u1", "")
	require.ErrorIs(t, err, ErrEmptyComment)
	require.ErrorIs(t, e.svc.Delete(ctx, ""), ErrInvalidID)
}

func TestLookupFallsBackToDB(t *testing.T) {
	e := setupEnv(t)
	ctx := context.Background()
	e.register(t, "u1")
	seeded := e.seedDB(t, "u1", 1, time.Now().Add(-time.Hour))

	// 没有投影缓存，走 db
	f, err := e.svc.Lookup(ctx, seeded[0].UUID)
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Equal(t, seeded[0].UUID, f.UUID)

	f, err = e.svc.Lookup(ctx, "missing")
	require.NoError(t, err)
	require.Nil(t, f)
}
