package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/d60-Lab/feed-engine/internal/model"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.User{}, &model.Feed{}, &model.Fan{}))
	return db
}

func seedFeeds(t *testing.T, repo FeedRepository, userID string, n int, base time.Time) []*model.Feed {
	feeds := make([]*model.Feed, 0, n)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		feeds = append(feeds, &model.Feed{
			UUID:      fmt.Sprintf("%s-f%03d", userID, i),
			UserID:    userID,
			Comment:   fmt.Sprintf("comment %d", i),
			CreatedAt: at,
			UpdatedAt: at,
		})
	}
	require.NoError(t, repo.BulkInsert(context.Background(), feeds))
	return feeds
}

func TestListBefore(t *testing.T) {
	repo := NewFeedRepository(setupDB(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	seedFeeds(t, repo, "u1", 10, base)
	seedFeeds(t, repo, "u2", 5, base)

	// 全站：时间倒序，严格早于游标
	rows, err := repo.ListBefore(ctx, "", base.Add(5*time.Second), 100)
	require.NoError(t, err)
	require.Len(t, rows, 10) // u1 0..4 + u2 0..4
	for i := 1; i < len(rows); i++ {
		require.False(t, rows[i].CreatedAt.After(rows[i-1].CreatedAt))
	}
	for _, f := range rows {
		require.True(t, f.CreatedAt.Before(base.Add(5*time.Second)))
	}

	// 按作者过滤 + limit
	rows, err = repo.ListBefore(ctx, "u1", base.Add(time.Hour), 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "u1-f009", rows[0].UUID)
}

func TestBulkInsertToleratesDuplicates(t *testing.T) {
	repo := NewFeedRepository(setupDB(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	feeds := seedFeeds(t, repo, "u1", 5, base)

	// 重放同一批不报错也不翻倍
	require.NoError(t, repo.BulkInsert(ctx, feeds))
	rows, err := repo.ListBefore(ctx, "u1", time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, rows, 5)
}

func TestBulkDelete(t *testing.T) {
	repo := NewFeedRepository(setupDB(t))
	ctx := context.Background()
	feeds := seedFeeds(t, repo, "u1", 5, time.Now().Add(-time.Hour))

	require.NoError(t, repo.BulkDelete(ctx, []string{feeds[0].UUID, feeds[1].UUID}))
	rows, err := repo.ListBefore(ctx, "u1", time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	f, err := repo.FindByUUID(ctx, feeds[0].UUID)
	require.NoError(t, err)
	require.Nil(t, f)
}

func TestFindByUUIDs(t *testing.T) {
	repo := NewFeedRepository(setupDB(t))
	ctx := context.Background()
	feeds := seedFeeds(t, repo, "u1", 3, time.Now().Add(-time.Hour))

	rows, err := repo.FindByUUIDs(ctx, []string{feeds[2].UUID, feeds[0].UUID, "missing"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, feeds[2].UUID, rows[0].UUID) // created_at desc
}

func TestFanRepositoryPagedEnumeration(t *testing.T) {
	db := setupDB(t)
	repo := NewFanRepository(db)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, repo.Create(ctx, "author", fmt.Sprintf("fan%d", i)))
	}
	// 幂等：重复关注不报错
	require.NoError(t, repo.Create(ctx, "author", "fan0"))

	page1, err := repo.ListFans(ctx, "author", 0, 5)
	require.NoError(t, err)
	require.Len(t, page1, 5)
	page2, err := repo.ListFans(ctx, "author", 5, 5)
	require.NoError(t, err)
	require.Len(t, page2, 2) // 短页即枚举结束
}
