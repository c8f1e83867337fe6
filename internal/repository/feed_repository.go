package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/feed-engine/internal/model"
)

type FeedRepository interface {
	// ListBefore 取 created_at 严格早于 before 的 feed，按时间倒序；userID 为空表示全站
	ListBefore(ctx context.Context, userID string, before time.Time, limit int) ([]*model.Feed, error)
	FindByUUID(ctx context.Context, uuid string) (*model.Feed, error)
	FindByUUIDs(ctx context.Context, uuids []string) ([]*model.Feed, error)
	// BulkInsert 批量落库；重复主键不报错（缓冲重放场景）
	BulkInsert(ctx context.Context, feeds []*model.Feed) error
	BulkDelete(ctx context.Context, uuids []string) error
}

type feedRepository struct{ db *gorm.DB }

func NewFeedRepository(db *gorm.DB) FeedRepository { return &feedRepository{db: db} }

func (r *feedRepository) ListBefore(ctx context.Context, userID string, before time.Time, limit int) ([]*model.Feed, error) {
	q := r.db.WithContext(ctx).Where("created_at < ?", before)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var res []*model.Feed
	err := q.Order("created_at DESC").Limit(limit).Find(&res).Error
	return res, err
}

func (r *feedRepository) FindByUUID(ctx context.Context, uuid string) (*model.Feed, error) {
	var f model.Feed
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *feedRepository) FindByUUIDs(ctx context.Context, uuids []string) ([]*model.Feed, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	var res []*model.Feed
	err := r.db.WithContext(ctx).
		Where("uuid IN ?", uuids).
		Order("created_at DESC").
		Find(&res).Error
	return res, err
}

func (r *feedRepository) BulkInsert(ctx context.Context, feeds []*model.Feed) error {
	if len(feeds) == 0 {
		return nil
	}
	// 幂等：并发 drain 可能重复提交同一批
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(feeds, 100).Error
}

func (r *feedRepository) BulkDelete(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("uuid IN ?", uuids).Delete(&model.Feed{}).Error
}
