package service

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/feed-engine/internal/cache"
	"github.com/d60-Lab/feed-engine/internal/repository"
)

// SubscriptionDirectory 订阅目录：扇出消费的分页订阅者枚举。
// 生产实现是"广播到全站"；fanDirectory 证明换成真实关注图只需换实现。
type SubscriptionDirectory interface {
	// Setup 新用户注册钩子
	Setup(ctx context.Context, userID string) error
	// Enumerate 返回 authorID 的一页订阅者 id；短页即枚举结束
	Enumerate(ctx context.Context, authorID string, offset, limit int) ([]string, error)
}

// subscribeToAll 所有注册用户互相关注；订阅者集合放在 sorted set 里，
// 方便扇出过程按区间切片。
type subscribeToAll struct {
	store *cache.Store
	users repository.UserRepository
}

func NewSubscribeToAll(store *cache.Store, users repository.UserRepository) SubscriptionDirectory {
	return &subscribeToAll{store: store, users: users}
}

func (s *subscribeToAll) Setup(ctx context.Context, userID string) error {
	return s.store.Client().ZAdd(ctx, cache.UsersKey(), redis.Z{Score: 0, Member: userID}).Err()
}

func (s *subscribeToAll) Enumerate(ctx context.Context, _ string, offset, limit int) ([]string, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.store.Client().ZRange(ctx, cache.UsersKey(), int64(offset), int64(offset+limit-1)).Result()
}

// ensureLoaded 目录 key 丢失时从 users 表重建
func (s *subscribeToAll) ensureLoaded(ctx context.Context) error {
	exists, err := s.store.Exists(ctx, cache.UsersKey())
	if err != nil || exists {
		return err
	}
	ids, err := s.users.ListIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	_, err = s.store.Client().Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.ZAdd(ctx, cache.UsersKey(), redis.Z{Score: 0, Member: id})
		}
		return nil
	})
	return err
}

// fanDirectory 基于 fans 表的图实现
type fanDirectory struct {
	fans repository.FanRepository
}

func NewFanDirectory(fans repository.FanRepository) SubscriptionDirectory {
	return &fanDirectory{fans: fans}
}

func (d *fanDirectory) Setup(ctx context.Context, userID string) error { return nil }

func (d *fanDirectory) Enumerate(ctx context.Context, authorID string, offset, limit int) ([]string, error) {
	fans, err := d.fans.ListFans(ctx, authorID, offset, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(fans))
	for i, f := range fans {
		ids[i] = f.FanID
	}
	return ids, nil
}
