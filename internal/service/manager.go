package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feed-engine/internal/cache"
	"github.com/d60-Lab/feed-engine/internal/model"
	"github.com/d60-Lab/feed-engine/internal/repository"
	"github.com/d60-Lab/feed-engine/pkg/logger"
)

// FeedKind 每个用户的两类时间线
type FeedKind string

const (
	KindFeed    FeedKind = "feed"    // 关注流（入站）
	KindProfile FeedKind = "profile" // 个人主页（出站）
)

var (
	ErrInvalidLimit = errors.New("limit must be positive")
	ErrEmptyComment = errors.New("comment must not be empty")
	ErrInvalidUser  = errors.New("user id must not be empty")
	ErrInvalidID    = errors.New("feed id must not be empty")
)

// Page 一页 feed，按时间倒序；下一页游标取最后一条的时间
type Page struct {
	Items []*model.Feed `json:"items"`
	Limit int           `json:"limit"`
}

// TimeTo 本页最后一条（最旧）的时间，即下一页游标；空页为零值
func (p *Page) TimeTo() time.Time {
	if len(p.Items) == 0 {
		return time.Time{}
	}
	return p.Items[len(p.Items)-1].CreatedAt
}

// NextCursor 毫秒游标，空页为 0
func (p *Page) NextCursor() int64 {
	if len(p.Items) == 0 {
		return 0
	}
	return p.Items[len(p.Items)-1].Score()
}

// feedManager 组装单个 subject 的分页读取：buffer → 缓存 → db 逐层补齐。
// feed/profile 两类时间线只差 key 推导与 db 查询条件，用配置函数区分，
// 不做继承层次。
type feedManager struct {
	store  *cache.Store
	buffer *cache.StorageBuffer
	repo   repository.FeedRepository

	key        string
	useBuffer  bool // 关注流合并全局 insert buffer；主页流在发帖时已同步写入索引
	dataSource func(ctx context.Context, cursor int64, limit int) (cache.TimeSeries, error)
	fireWarmUp func(cursor int64, depth int)
}

// Get 返回 cursor 之前（严格小于）至多 limit 条 feed。
// 因为索引条目可能解析不到投影（缓存过期、脏数据），单轮取到的有效条数会
// 缩水，这里用迭代放大的方式补齐：remaining 较小时一次多取 10 倍候选，
// 摊薄逐条回源 db 的开销。
func (m *feedManager) Get(ctx context.Context, cursor int64, limit int) (*Page, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if cursor <= 0 {
		cursor = time.Now().UnixMilli()
	}

	feeds := make([]*model.Feed, 0, limit)
	remaining := limit
	t := cursor
	dbHit := false

	for remaining > 0 {
		factor := 1
		if remaining <= 10 {
			factor = 10
		}
		ts, hit, err := m.load(ctx, t, int64(factor*remaining))
		if err != nil {
			return nil, err
		}
		if hit {
			dbHit = true
		}
		if len(ts) == 0 {
			break
		}

		resolved, err := m.resolve(ctx, ts)
		if err != nil {
			return nil, err
		}
		if len(resolved) == 0 {
			// 整批都是悬空条目，推进游标继续
			t = ts.TimeTo()
			continue
		}
		if len(resolved) > remaining {
			resolved = resolved[:remaining]
		}
		feeds = append(feeds, resolved...)
		remaining -= len(resolved)
		t = resolved[len(resolved)-1].Score()
	}

	// 命中 db 说明缓存不够深，异步预热；空库不触发
	if dbHit && len(feeds) > 0 && m.fireWarmUp != nil {
		m.fireWarmUp(cursor, limit)
	}
	return &Page{Items: feeds, Limit: limit}, nil
}

// load 合并三层数据源取一页原始时间线。缓存/缓冲故障按 miss 降级，
// 只有 db 错误向上返回。第二个返回值表示 db 是否贡献了数据。
func (m *feedManager) load(ctx context.Context, cursor int64, limit int64) (cache.TimeSeries, bool, error) {
	var ts cache.TimeSeries

	if m.useBuffer {
		bts, err := m.buffer.Get(ctx, cursor, limit)
		if err != nil {
			logger.Warn("buffer read failed, treating as miss", zap.Error(err))
		} else {
			ts = bts
		}
		if int64(len(ts)) >= limit {
			return ts, false, nil
		}
		if len(ts) > 0 {
			cursor = ts.TimeTo()
		}
		limit -= int64(len(ts))
	}

	cts, err := m.store.GetTimeSeries(ctx, m.key, cursor, limit)
	if err != nil {
		logger.Warn("cache read failed, treating as miss", zap.String("key", m.key), zap.Error(err))
		cts = nil
	}
	ts = ts.Concat(cts)
	if int64(len(cts)) >= limit {
		return ts, false, nil
	}

	next := cursor
	if len(cts) > 0 {
		next = cts.TimeTo()
	}
	dbts, err := m.dataSource(ctx, next, int(limit)-len(cts))
	if err != nil {
		return nil, false, err
	}
	return ts.Concat(dbts), len(dbts) > 0, nil
}

// resolve 把索引条目还原成完整 feed：先查投影缓存，miss 的合并一次 db
// 批查并回填缓存。两边都查不到的是异常条目，记日志后跳过，不影响整页。
func (m *feedManager) resolve(ctx context.Context, ts cache.TimeSeries) ([]*model.Feed, error) {
	found := make(map[string]*model.Feed, len(ts))
	var missing []string

	for _, e := range ts {
		fields, err := m.store.GetProjection(ctx, cache.FeedKey(e.ID))
		if err != nil {
			logger.Warn("projection read failed, falling back to db", zap.String("uuid", e.ID), zap.Error(err))
		} else if f, ok := model.FeedFromProjection(fields); ok {
			found[e.ID] = f
			continue
		}
		missing = append(missing, e.ID)
	}

	if len(missing) > 0 {
		rows, err := m.repo.FindByUUIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, f := range rows {
			found[f.UUID] = f
			if err := m.store.SetProjection(ctx, cache.FeedKey(f.UUID), f.ToProjection()); err != nil {
				logger.Warn("projection refill failed", zap.String("uuid", f.UUID), zap.Error(err))
			}
		}
	}

	out := make([]*model.Feed, 0, len(ts))
	for _, e := range ts {
		f, ok := found[e.ID]
		if !ok {
			// 索引里有 id 但缓存和 db 都没有
			logger.Error("dangling timeline entry skipped", zap.String("uuid", e.ID), zap.String("key", m.key))
			continue
		}
		out = append(out, f)
	}
	return out, nil
}
