package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/feed-engine/config"
	"github.com/d60-Lab/feed-engine/internal/cache"
	"github.com/d60-Lab/feed-engine/internal/repository"
	"github.com/d60-Lab/feed-engine/internal/service"
	"github.com/d60-Lab/feed-engine/pkg/database"
	"github.com/d60-Lab/feed-engine/pkg/logger"
)

// 单次执行一轮 buffer 落库，给外部 cron 调度用
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Server.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Error("init db", zap.Error(err))
		os.Exit(1)
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	store := cache.NewStore(rdb, cfg.Feed.CacheTTL)
	buffer := cache.NewStorageBuffer(store, cfg.Feed.BufferTimeout)
	feedRepo := repository.NewFeedRepository(db)
	userRepo := repository.NewUserRepository(db)
	directory := service.NewSubscribeToAll(store, userRepo)
	broadcaster := service.NewBroadcaster(store, directory, cfg.Feed.FanoutPageSize, cfg.Feed.FanoutRate)
	feedService := service.NewFeedService(store, buffer, feedRepo, userRepo, directory, broadcaster,
		cfg.Feed.EventQueueSize, service.Options{PreloadBatchSize: cfg.Feed.PreloadBatchSize})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := feedService.Persist(ctx); err != nil {
		logger.Error("persist failed", zap.Error(err))
		os.Exit(1)
	}
}
