package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/feed-engine/config"
	"github.com/d60-Lab/feed-engine/internal/api"
	"github.com/d60-Lab/feed-engine/internal/api/handler"
	"github.com/d60-Lab/feed-engine/internal/cache"
	"github.com/d60-Lab/feed-engine/internal/repository"
	"github.com/d60-Lab/feed-engine/internal/service"
	"github.com/d60-Lab/feed-engine/pkg/database"
	"github.com/d60-Lab/feed-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Server.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()
	gin.SetMode(cfg.Server.Mode)

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Error("init db", zap.Error(err))
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	store := cache.NewStore(rdb, cfg.Feed.CacheTTL)
	buffer := cache.NewStorageBuffer(store, cfg.Feed.BufferTimeout)
	feedRepo := repository.NewFeedRepository(db)
	userRepo := repository.NewUserRepository(db)
	directory := service.NewSubscribeToAll(store, userRepo)
	broadcaster := service.NewBroadcaster(store, directory, cfg.Feed.FanoutPageSize, cfg.Feed.FanoutRate)

	feedService := service.NewFeedService(store, buffer, feedRepo, userRepo, directory, broadcaster,
		cfg.Feed.EventQueueSize, service.Options{PreloadBatchSize: cfg.Feed.PreloadBatchSize})

	stopWorkers := feedService.Start(cfg.Feed.EventWorkers)
	persister := service.NewPersister(feedService, cfg.Feed.PersistInterval)
	stopPersister := persister.Start()

	r := api.NewRouter(handler.New(feedService))

	go func() {
		if err := r.Run(cfg.Server.Addr); err != nil {
			logger.Error("server exited", zap.Error(err))
			os.Exit(1)
		}
	}()
	logger.Info("server started", zap.String("addr", cfg.Server.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = stopPersister(ctx)
	_ = stopWorkers(ctx)
	// 退出前把过窗的缓冲刷掉一轮
	if err := feedService.Persist(ctx); err != nil {
		logger.Error("final persist failed", zap.Error(err))
	}
	logger.Info("server stopped")
}
