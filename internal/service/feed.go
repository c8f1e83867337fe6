package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/feed-engine/internal/cache"
	"github.com/d60-Lab/feed-engine/internal/model"
	"github.com/d60-Lab/feed-engine/internal/repository"
	"github.com/d60-Lab/feed-engine/pkg/logger"
)

// WarmUpSizer 根据请求深度决定预热条数；返回 0 表示预热到 db 读空为止
type WarmUpSizer func(depth int) int

// warmUpSize 阶梯式默认策略
func warmUpSize(depth int) int {
	switch {
	case depth < 100:
		return 100
	case depth < 200:
		return 200
	default:
		return 400
	}
}

// Options feed 引擎参数
type Options struct {
	PreloadBatchSize int
	WarmUpSizer      WarmUpSizer
}

// FeedService 发帖、读流、删除、预热、落库的编排层
type FeedService struct {
	store      *cache.Store
	buffer     *cache.StorageBuffer
	feeds      repository.FeedRepository
	users      repository.UserRepository
	directory  SubscriptionDirectory
	fanout     *Broadcaster
	dispatcher *EventDispatcher

	preloadBatch int
	sizer        WarmUpSizer
}

func NewFeedService(
	store *cache.Store,
	buffer *cache.StorageBuffer,
	feeds repository.FeedRepository,
	users repository.UserRepository,
	directory SubscriptionDirectory,
	fanout *Broadcaster,
	queueSize int,
	opts Options,
) *FeedService {
	s := &FeedService{
		store:        store,
		buffer:       buffer,
		feeds:        feeds,
		users:        users,
		directory:    directory,
		fanout:       fanout,
		preloadBatch: opts.PreloadBatchSize,
		sizer:        opts.WarmUpSizer,
	}
	if s.preloadBatch <= 0 {
		s.preloadBatch = 100
	}
	if s.sizer == nil {
		s.sizer = warmUpSize
	}
	s.dispatcher = NewEventDispatcher(queueSize, s.handleFeedPosted, s.handleWarmUp)
	return s
}

// Start 启动异步 worker；返回停止函数
func (s *FeedService) Start(workers int) func(context.Context) error {
	return s.dispatcher.Start(workers)
}

// Dispatcher 暴露给需要直接观测队列的调用方（bench）
func (s *FeedService) Dispatcher() *EventDispatcher { return s.dispatcher }

// Register 创建用户并登记进订阅目录
func (s *FeedService) Register(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if err := s.users.Create(ctx, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return s.directory.Setup(ctx, user.ID)
}

// Post 发帖：投影 + 主页索引 + insert buffer 在一个 tx pipeline 里落缓存，
// 然后异步扇出。发帖路径不等扇出。
func (s *FeedService) Post(ctx context.Context, userID, comment string) (*model.Feed, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if comment == "" {
		return nil, ErrEmptyComment
	}

	now := time.Now()
	feed := &model.Feed{
		UUID:      uuid.New().String(),
		UserID:    userID,
		Comment:   comment,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.store.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		feedKey := cache.FeedKey(feed.UUID)
		profileKey := cache.UserProfileKey(userID)
		pipe.HSet(ctx, feedKey, feed.ToProjection())
		pipe.Expire(ctx, feedKey, s.store.TTL())
		pipe.ZAdd(ctx, profileKey, redis.Z{Score: float64(feed.Score()), Member: feed.UUID})
		pipe.Expire(ctx, profileKey, s.store.TTL())
		s.buffer.AddPipe(ctx, pipe, feed.UUID, feed.CreatedAt)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("post feed: %w", err)
	}

	s.dispatcher.EnqueueFeedPosted(feed)
	return feed, nil
}

// Delete 删除：撤销未落库的 insert、清投影、登记 delete buffer。
// 已落库的行等 delete buffer 过窗后批量删除。
func (s *FeedService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	return s.buffer.Delete(ctx, id, time.Now())
}

// Lookup 按 id 查单条：投影缓存优先，miss 回源 db。找不到返回 nil。
func (s *FeedService) Lookup(ctx context.Context, id string) (*model.Feed, error) {
	fields, err := s.store.GetProjection(ctx, cache.FeedKey(id))
	if err != nil {
		logger.Warn("projection read failed, falling back to db", zap.String("uuid", id), zap.Error(err))
	} else if f, ok := model.FeedFromProjection(fields); ok {
		return f, nil
	}
	return s.feeds.FindByUUID(ctx, id)
}

// GetFeed 关注流分页；cursor<=0 表示从现在开始
func (s *FeedService) GetFeed(ctx context.Context, userID string, cursor int64, limit int) (*Page, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	return s.feedManagerFor(userID, KindFeed).Get(ctx, cursor, limit)
}

// GetProfile 主页流分页
func (s *FeedService) GetProfile(ctx context.Context, userID string, cursor int64, limit int) (*Page, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	return s.feedManagerFor(userID, KindProfile).Get(ctx, cursor, limit)
}

func (s *FeedService) feedManagerFor(userID string, kind FeedKind) *feedManager {
	m := &feedManager{
		store:  s.store,
		buffer: s.buffer,
		repo:   s.feeds,
	}
	switch kind {
	case KindProfile:
		m.key = cache.UserProfileKey(userID)
		m.dataSource = func(ctx context.Context, cursor int64, limit int) (cache.TimeSeries, error) {
			return s.loadFromDB(ctx, userID, cursor, limit)
		}
	default:
		m.key = cache.UserFeedKey(userID)
		m.useBuffer = true
		m.dataSource = func(ctx context.Context, cursor int64, limit int) (cache.TimeSeries, error) {
			return s.loadFromDB(ctx, "", cursor, limit)
		}
	}
	m.fireWarmUp = func(cursor int64, depth int) {
		s.dispatcher.EnqueueWarmUp(userID, kind, cursor, depth)
	}
	return m
}

func (s *FeedService) loadFromDB(ctx context.Context, userID string, cursor int64, limit int) (cache.TimeSeries, error) {
	rows, err := s.feeds.ListBefore(ctx, userID, time.UnixMilli(cursor), limit)
	if err != nil {
		return nil, err
	}
	ts := make(cache.TimeSeries, 0, len(rows))
	for _, f := range rows {
		ts = append(ts, cache.Entry{ID: f.UUID, Score: f.Score()})
	}
	return ts, nil
}

// Persist 把过窗的缓冲条目批量落库/删库。缓冲条目只有在对应回调成功后才
// 会被移除，失败留到下一轮重试。
func (s *FeedService) Persist(ctx context.Context) error {
	return s.buffer.Persist(ctx, s.persistInsertion, s.persistDeletion)
}

func (s *FeedService) persistInsertion(ctx context.Context, ids []string) error {
	feeds := make([]*model.Feed, 0, len(ids))
	for _, id := range ids {
		fields, err := s.store.GetProjection(ctx, cache.FeedKey(id))
		if err != nil {
			return fmt.Errorf("read projection %s: %w", id, err)
		}
		f, ok := model.FeedFromProjection(fields)
		if !ok {
			// 投影在落库前过期，数据已不可恢复
			logger.Error("buffered feed lost its projection, dropping", zap.String("uuid", id))
			continue
		}
		feeds = append(feeds, f)
	}

	if err := s.feeds.BulkInsert(ctx, feeds); err != nil {
		logger.Error("failed to persist feeds", zap.Int("count", len(feeds)), zap.Error(err))
		return err
	}
	logger.Info("persisted feeds into database", zap.Int("count", len(feeds)))
	return nil
}

func (s *FeedService) persistDeletion(ctx context.Context, ids []string) error {
	if err := s.feeds.BulkDelete(ctx, ids); err != nil {
		logger.Error("failed to delete feeds", zap.Int("count", len(ids)), zap.Error(err))
		return err
	}
	logger.Info("deleted feeds from database", zap.Int("count", len(ids)))
	return nil
}

func (s *FeedService) handleFeedPosted(ctx context.Context, f *model.Feed) error {
	return s.fanout.Broadcast(ctx, f)
}

func (s *FeedService) handleWarmUp(ctx context.Context, req warmUpRequest) error {
	return s.Preload(ctx, req.userID, req.kind, s.sizer(req.depth))
}

// Preload 从 db 分批把 subject 索引灌回缓存，从现在往旧翻页，直到读空或
// 达到 sizeHint（0 表示不设上限）。重复执行安全：同 key 同 score 的
// sorted-set 写入是幂等的。
func (s *FeedService) Preload(ctx context.Context, userID string, kind FeedKind, sizeHint int) error {
	key := cache.UserFeedKey(userID)
	author := ""
	if kind == KindProfile {
		key = cache.UserProfileKey(userID)
		author = userID
	}

	cursor := time.Now().UnixMilli()
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ts, err := s.loadFromDB(ctx, author, cursor, s.preloadBatch)
		if err != nil {
			return err
		}
		if len(ts) == 0 {
			return nil
		}
		if err := s.store.AddEntries(ctx, key, ts); err != nil {
			return err
		}
		cursor = ts.TimeTo()
		total += len(ts)
		if sizeHint > 0 && total >= sizeHint {
			return nil
		}
	}
}
