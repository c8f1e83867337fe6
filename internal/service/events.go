package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feed-engine/internal/model"
	"github.com/d60-Lab/feed-engine/pkg/logger"
)

type eventKind int

const (
	eventFeedPosted eventKind = iota + 1
	eventWarmUp
)

type warmUpRequest struct {
	userID string
	kind   FeedKind
	cursor int64
	depth  int // 请求深度，决定预热量
}

type event struct {
	kind   eventKind
	feed   *model.Feed
	warmUp warmUpRequest
	enqAt  time.Time
}

// EventDispatcher 进程内异步任务队列：发帖扇出、缓存预热都走这里。
// at-least-once + 幂等 handler，队列满了丢弃并告警，重投递交给外部重试。
type EventDispatcher struct {
	ch       chan event
	onPosted func(ctx context.Context, f *model.Feed) error
	onWarmUp func(ctx context.Context, req warmUpRequest) error
}

func NewEventDispatcher(queueSize int, onPosted func(ctx context.Context, f *model.Feed) error, onWarmUp func(ctx context.Context, req warmUpRequest) error) *EventDispatcher {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &EventDispatcher{ch: make(chan event, queueSize), onPosted: onPosted, onWarmUp: onWarmUp}
}

func (d *EventDispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case ev := <-d.ch:
					d.handle(ev)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		// 等待队列自然排空一小段时间
		timeout := time.After(2 * time.Second)
		for {
			select {
			case <-timeout:
				return nil
			default:
				if len(d.ch) == 0 {
					return nil
				}
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

func (d *EventDispatcher) handle(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	var err error
	switch ev.kind {
	case eventFeedPosted:
		err = d.onPosted(ctx, ev.feed)
	case eventWarmUp:
		err = d.onWarmUp(ctx, ev.warmUp)
	}
	if err != nil {
		logger.Error("event handler failed", zap.Int("kind", int(ev.kind)), zap.Error(err))
		return
	}
	logger.Debug("event handled", zap.Int("kind", int(ev.kind)), zap.Duration("queue_wait", time.Since(ev.enqAt)))
}

func (d *EventDispatcher) EnqueueFeedPosted(f *model.Feed) {
	select {
	case d.ch <- event{kind: eventFeedPosted, feed: f, enqAt: time.Now()}:
	default:
		logger.Warn("event queue full, drop fanout", zap.String("uuid", f.UUID))
	}
}

func (d *EventDispatcher) EnqueueWarmUp(userID string, kind FeedKind, cursor int64, depth int) {
	select {
	case d.ch <- event{kind: eventWarmUp, warmUp: warmUpRequest{userID: userID, kind: kind, cursor: cursor, depth: depth}, enqAt: time.Now()}:
	default:
		logger.Warn("event queue full, drop warm-up", zap.String("user", userID), zap.String("kind", string(kind)))
	}
}

// QueueLen 当前队列长度（采样值）
func (d *EventDispatcher) QueueLen() int { return len(d.ch) }
