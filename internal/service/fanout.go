package service

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/feed-engine/internal/cache"
	"github.com/d60-Lab/feed-engine/internal/model"
	"github.com/d60-Lab/feed-engine/pkg/logger"
)

// Broadcaster 把一条新 feed 推进每个活跃订阅者的关注流索引。
// 按页枚举订阅者，一页一个 pipeline；失败重跑整个扇出即可（同 member
// 同 score 的 ZADD 是无操作，幂等）。
type Broadcaster struct {
	store     *cache.Store
	directory SubscriptionDirectory
	pageSize  int
	limiter   *rate.Limiter // 每秒 pipeline 页数，nil 不限速
}

func NewBroadcaster(store *cache.Store, directory SubscriptionDirectory, pageSize int, pagesPerSec float64) *Broadcaster {
	if pageSize <= 0 {
		pageSize = 50
	}
	var limiter *rate.Limiter
	if pagesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(pagesPerSec), 1)
	}
	return &Broadcaster{store: store, directory: directory, pageSize: pageSize, limiter: limiter}
}

// Broadcast 扇出一条 feed。作者本人的关注流必进；其他订阅者没有热缓存的
// 直接跳过，等他们下次读取时走预热。页与页之间响应取消，半途失败不会
// 破坏已写完的页。
func (b *Broadcaster) Broadcast(ctx context.Context, feed *model.Feed) error {
	if err := b.push(ctx, feed, []string{feed.UserID}); err != nil {
		return err
	}

	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		users, err := b.directory.Enumerate(ctx, feed.UserID, offset, b.pageSize)
		if err != nil {
			return err
		}

		toPush := make([]string, 0, len(users))
		for _, u := range users {
			if u == feed.UserID {
				continue // 已推
			}
			// 冷用户不推：没有热缓存说明不活跃
			exists, err := b.store.Exists(ctx, cache.UserFeedKey(u))
			if err != nil {
				logger.Warn("fanout exists check failed, skipping user", zap.String("user", u), zap.Error(err))
				continue
			}
			if !exists {
				continue
			}
			toPush = append(toPush, u)
		}
		if err := b.push(ctx, feed, toPush); err != nil {
			return err
		}

		if len(users) < b.pageSize {
			return nil
		}
		offset += b.pageSize
	}
}

func (b *Broadcaster) push(ctx context.Context, feed *model.Feed, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := b.store.Client().Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, u := range userIDs {
			key := cache.UserFeedKey(u)
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(feed.Score()), Member: feed.UUID})
			pipe.Expire(ctx, key, b.store.TTL())
		}
		return nil
	})
	return err
}
