package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/feed-engine/pkg/logger"
)

// Persister 周期性驱动 buffer 落库。失败只记日志，条目留在缓冲里等
// 下一轮重试（插入/删除都幂等）。
type Persister struct {
	svc      *FeedService
	interval time.Duration
}

func NewPersister(svc *FeedService, interval time.Duration) *Persister {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Persister{svc: svc, interval: interval}
}

// Start 启动调度循环；返回停止函数
func (p *Persister) Start() func(context.Context) error {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), p.interval)
				if err := p.svc.Persist(ctx); err != nil {
					logger.Error("buffer persist failed, will retry next cycle", zap.Error(err))
				}
				cancel()
			}
		}
	}()
	return func(ctx context.Context) error { close(stop); return nil }
}
