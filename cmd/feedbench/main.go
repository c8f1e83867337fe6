package main

import (
    "context"
    "fmt"
    "math"
    "os"
    "sort"
    "strconv"
    "time"

    "github.com/google/uuid"
    "github.com/redis/go-redis/v9"

    "github.com/d60-Lab/feed-engine/config"
    "github.com/d60-Lab/feed-engine/internal/cache"
    "github.com/d60-Lab/feed-engine/internal/model"
    "github.com/d60-Lab/feed-engine/internal/repository"
    "github.com/d60-Lab/feed-engine/internal/service"
    "github.com/d60-Lab/feed-engine/pkg/database"
    "github.com/d60-Lab/feed-engine/pkg/logger"
)

func must[T any](v T, err error) T { if err != nil { panic(err) }; return v }

func pct(vs []time.Duration, p float64) time.Duration {
    if len(vs) == 0 { return 0 }
    xs := append([]time.Duration(nil), vs...)
    sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
    k := int(math.Ceil(p*float64(len(xs)))) - 1
    if k < 0 { k = 0 }
    if k >= len(xs) { k = len(xs)-1 }
    return xs[k]
}

func main() {
    cfg := must(config.Load())
    _ = logger.Init(cfg.Server.Mode)
    db := must(database.InitDB(cfg))
    rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
    defer rdb.Close()

    // params
    USERS := 1000  // registered users
    ACTIVE := 200  // users with a warm feed cache
    POSTS := 100   // posts to publish
    LIMIT := 50    // page size for the read benchmark
    if s := os.Getenv("USERS"); s != "" { if v, e := strconv.Atoi(s); e == nil && v > 0 { USERS = v } }
    if s := os.Getenv("ACTIVE"); s != "" { if v, e := strconv.Atoi(s); e == nil && v > 0 { ACTIVE = v } }
    if s := os.Getenv("POSTS"); s != "" { if v, e := strconv.Atoi(s); e == nil && v > 0 { POSTS = v } }
    if s := os.Getenv("LIMIT"); s != "" { if v, e := strconv.Atoi(s); e == nil && v > 0 { LIMIT = v } }

    ctx := context.Background()

    // clean slate for a reproducible local run
    _ = db.Exec("TRUNCATE TABLE feeds, fans, users RESTART IDENTITY CASCADE").Error
    _ = rdb.FlushDB(ctx).Err()

    store := cache.NewStore(rdb, cfg.Feed.CacheTTL)
    buffer := cache.NewStorageBuffer(store, cfg.Feed.BufferTimeout)
    feedRepo := repository.NewFeedRepository(db)
    userRepo := repository.NewUserRepository(db)
    directory := service.NewSubscribeToAll(store, userRepo)
    broadcaster := service.NewBroadcaster(store, directory, cfg.Feed.FanoutPageSize, cfg.Feed.FanoutRate)
    svc := service.NewFeedService(store, buffer, feedRepo, userRepo, directory, broadcaster,
        cfg.Feed.EventQueueSize, service.Options{PreloadBatchSize: cfg.Feed.PreloadBatchSize})
    stop := svc.Start(cfg.Feed.EventWorkers)
    defer stop(ctx)

    // seed users
    users := make([]string, USERS)
    for i := 0; i < USERS; i++ {
        u := &model.User{ID: uuid.New().String(), Username: fmt.Sprintf("u%05d", i), Email: fmt.Sprintf("u%05d@example.com", i)}
        must(0, svc.Register(ctx, u))
        users[i] = u.ID
    }
    // warm up ACTIVE users' feed stores so fanout sees them as active
    seed := cache.TimeSeries{{ID: "seed", Score: time.Now().Add(-time.Hour).UnixMilli()}}
    for i := 0; i < ACTIVE; i++ {
        _ = store.AddEntries(ctx, cache.UserFeedKey(users[i]), seed)
    }

    author := users[0]
    postDur := make([]time.Duration, 0, POSTS)
    for i := 0; i < POSTS; i++ {
        st := time.Now()
        _ = must(svc.Post(ctx, author, fmt.Sprintf("hello %d", i)))
        postDur = append(postDur, time.Since(st))
    }

    // wait for the fanout queue to drain
    for svc.Dispatcher().QueueLen() > 0 { time.Sleep(20 * time.Millisecond) }

    readDur := make([]time.Duration, 0, ACTIVE)
    rows := 0
    for i := 0; i < ACTIVE; i++ {
        st := time.Now()
        page := must(svc.GetFeed(ctx, users[i], 0, LIMIT))
        readDur = append(readDur, time.Since(st))
        rows += len(page.Items)
    }

    fmt.Printf("USERS=%d ACTIVE=%d POSTS=%d LIMIT=%d\n", USERS, ACTIVE, POSTS, LIMIT)
    var sum time.Duration
    for _, d := range postDur { sum += d }
    fmt.Printf("Post latency: avg=%v p95=%v p99=%v\n", sum/time.Duration(len(postDur)), pct(postDur, 0.95), pct(postDur, 0.99))
    sum = 0
    for _, d := range readDur { sum += d }
    fmt.Printf("Feed page read: avg=%v p95=%v p99=%v rows=%d\n", sum/time.Duration(len(readDur)), pct(readDur, 0.95), pct(readDur, 0.99), rows)
}
