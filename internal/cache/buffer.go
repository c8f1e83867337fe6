package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// persistBatchSize bounds one drain page during Persist.
const persistBatchSize = 50

// StorageBuffer is the write-behind buffer between the cache and the durable
// store. Inserts and deletes accumulate in two sorted sets keyed by the feed
// time score; entries older than the buffer timeout are drained to the
// database by Persist, while a trailing window of recent writes always stays
// buffered to absorb quick edits and deletes.
type StorageBuffer struct {
	store   *Store
	timeout time.Duration
	now     func() time.Time
}

func NewStorageBuffer(store *Store, timeout time.Duration) *StorageBuffer {
	return &StorageBuffer{store: store, timeout: timeout, now: time.Now}
}

// SetClock overrides the time source used to compute the drain threshold.
func (b *StorageBuffer) SetClock(now func() time.Time) { b.now = now }

// Add schedules a pending insert at the given time.
func (b *StorageBuffer) Add(ctx context.Context, id string, t time.Time) error {
	_, err := b.store.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		b.AddPipe(ctx, pipe, id, t)
		return nil
	})
	return err
}

// AddPipe queues the insert commands on an existing pipeline, so the post
// path can combine "cache projection + index + buffer" into one round trip.
func (b *StorageBuffer) AddPipe(ctx context.Context, pipe redis.Pipeliner, id string, t time.Time) {
	pipe.ZAdd(ctx, insertBufferKey, redis.Z{Score: float64(t.UnixMilli()), Member: id})
	pipe.Expire(ctx, insertBufferKey, b.store.TTL())
}

// Delete schedules a pending delete. A not-yet-flushed insert of the same id
// is cancelled, and the cached projection is dropped immediately so the
// deleted feed can never resurface from cache during the buffer window.
func (b *StorageBuffer) Delete(ctx context.Context, id string, t time.Time) error {
	_, err := b.store.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, FeedKey(id))
		pipe.ZAdd(ctx, deleteBufferKey, redis.Z{Score: float64(t.UnixMilli()), Member: id})
		pipe.Expire(ctx, deleteBufferKey, b.store.TTL())
		pipe.ZRem(ctx, insertBufferKey, id)
		return nil
	})
	return err
}

// Get exposes the pending inserts through the time-series read contract, so
// feed reads see unflushed posts as if they were already durable.
func (b *StorageBuffer) Get(ctx context.Context, cursor int64, limit int64) (TimeSeries, error) {
	return b.store.GetTimeSeries(ctx, insertBufferKey, cursor, limit)
}

// Persist drains buffered entries older than the timeout and hands them to
// the persist callbacks. Entries are removed from the buffer only after the
// corresponding callback returns nil; on error the buffer is left untouched
// and the next Persist run retries the same entries.
func (b *StorageBuffer) Persist(ctx context.Context, persistInsert, persistDelete func(ctx context.Context, ids []string) error) error {
	threshold := b.now().Add(-b.timeout).UnixMilli()

	insertIDs, err := b.drainable(ctx, insertBufferKey, threshold)
	if err != nil {
		return err
	}
	if len(insertIDs) > 0 {
		if err := persistInsert(ctx, insertIDs); err != nil {
			return err
		}
		if err := b.remove(ctx, insertBufferKey, insertIDs); err != nil {
			return err
		}
	}

	deleteIDs, err := b.drainable(ctx, deleteBufferKey, threshold)
	if err != nil {
		return err
	}
	if len(deleteIDs) > 0 {
		if err := persistDelete(ctx, deleteIDs); err != nil {
			return err
		}
		if err := b.remove(ctx, deleteBufferKey, deleteIDs); err != nil {
			return err
		}
	}
	return nil
}

// drainable pages through one buffer below the threshold, oldest entries
// ending up last. Interruptible between pages.
func (b *StorageBuffer) drainable(ctx context.Context, key string, threshold int64) ([]string, error) {
	var ids []string
	cursor := threshold
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := b.store.GetTimeSeries(ctx, key, cursor, persistBatchSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return ids, nil
		}
		cursor = page.TimeTo()
		ids = append(ids, page.IDs()...)
	}
}

func (b *StorageBuffer) remove(ctx context.Context, key string, ids []string) error {
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return b.store.Client().ZRem(ctx, key, members...).Err()
}
