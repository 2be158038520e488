package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/storyline/config"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/realtime"
	"github.com/d60-Lab/storyline/internal/service"
	"github.com/d60-Lab/storyline/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range vs {
		sum += v
	}
	return sum / time.Duration(len(vs))
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// countingPublisher 只计数，用于排除网络开销
type countingPublisher struct{ n atomic.Int64 }

func (p *countingPublisher) Publish(context.Context, string, realtime.Event) error {
	p.n.Add(1)
	return nil
}

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.Migrate(db); err != nil {
		panic(err)
	}

	N := envInt("N", 5000)           // fans of the author
	STORIES := envInt("STORIES", 50) // stories to publish
	WORKERS := envInt("WORKERS", 4)  // relay workers

	repos := service.NewRepos(db)
	authz := service.NewAuthorizer(repos.Follows, repos.Audience, repos.Stories)

	// clean previous run
	author := "rb-author"
	_ = db.Where("author_id = ?", author).Delete(&model.StoryEvent{}).Error
	_ = db.Where("author_id = ?", author).Delete(&model.Story{}).Error
	_ = db.Where("user_id = ?", author).Delete(&model.Fan{}).Error
	_ = db.Where("followee_id = ?", author).Delete(&model.Follow{}).Error

	fans := make([]model.Fan, N)
	follows := make([]model.Follow, N)
	now := time.Now().UTC()
	for i := range fans {
		id := uuid.NewString()
		fans[i] = model.Fan{ID: uuid.NewString(), UserID: author, FanID: id, CreatedAt: now}
		follows[i] = model.Follow{ID: uuid.NewString(), FollowerID: id, FolloweeID: author, CreatedAt: now}
	}
	if err := db.CreateInBatches(&fans, 1000).Error; err != nil {
		panic(err)
	}
	if err := db.CreateInBatches(&follows, 1000).Error; err != nil {
		panic(err)
	}

	var publisher realtime.Publisher
	counting := &countingPublisher{}
	publisher = counting
	target := "in-process"
	if os.Getenv("USE_REDIS") != "" && cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		publisher = realtime.NewRedisPublisher(client)
		target = "redis " + cfg.Redis.Addr
	}

	relay := service.NewRelay(repos, authz, publisher, nil, WORKERS, 20*time.Millisecond)
	stop := relay.Start()
	defer stop(context.Background())

	// publish STORIES, each with its created event
	pubDurations := make([]time.Duration, 0, STORIES)
	for i := 0; i < STORIES; i++ {
		st := time.Now()
		created := time.Now().UTC()
		s := &model.Story{
			ID:            uuid.NewString(),
			AuthorID:      author,
			MediaURL:      fmt.Sprintf("http://cdn.bench/%d.jpg", i),
			MediaType:     model.MediaImage,
			DurationHours: 24,
			CreatedAt:     created,
			ExpiresAt:     created.Add(24 * time.Hour),
			IsActive:      true,
			Privacy:       model.PrivacyFollowers,
		}
		if err := repos.Stories.Create(ctx, s); err != nil {
			panic(err)
		}
		if _, err := repos.Events.Append(ctx, s.ID, author, model.EventCreated); err != nil {
			panic(err)
		}
		pubDurations = append(pubDurations, time.Since(st))
	}

	land := make([]time.Duration, 0, STORIES)
	timeout := time.After(2 * time.Minute)
collect:
	for len(land) < STORIES {
		select {
		case d := <-relay.Metrics():
			land = append(land, d)
		case <-timeout:
			fmt.Printf("timeout while waiting for relay metrics: got=%d want=%d\n", len(land), STORIES)
			break collect
		}
	}

	c := relay.Counters()
	fmt.Printf("N=%d STORIES=%d WORKERS=%d publisher=%s\n", N, STORIES, WORKERS, target)
	fmt.Printf("Create tx latency: avg=%v p95=%v p99=%v\n", avg(pubDurations), pct(pubDurations, 0.95), pct(pubDurations, 0.99))
	fmt.Printf("Relay landing (event->done): samples=%d avg=%v p95=%v p99=%v\n", len(land), avg(land), pct(land, 0.95), pct(land, 0.99))
	fmt.Printf("Deliveries: ok=%d failed=%d counted=%d\n", c.Delivered, c.Failed, counting.n.Load())
}
