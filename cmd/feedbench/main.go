package main

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/d60-Lab/storyline/config"
	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/cache"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/service"
	"github.com/d60-Lab/storyline/pkg/database"
)

const benchPrefix = "fb-"

func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	mustDo(database.Migrate(db))

	var (
		viewers     = envInt("VIEWERS", 200)
		authors     = envInt("AUTHORS", 50)
		perAuthor   = envInt("STORIES", 4)
		reads       = envInt("READS", 20000)
		invalidateN = envInt("INVALIDATE_EVERY", 50) // 每 N 次读模拟一次新发布
	)

	fmt.Println("Setting up test data...")
	cleanup(db)
	viewerIDs, authorIDs := seed(db, viewers, authors, perAuthor)
	fmt.Printf("Test data ready: viewers=%d authors=%d stories=%d\n", viewers, authors, authors*perAuthor)

	repos := service.NewRepos(db)
	authz := service.NewAuthorizer(repos.Follows, repos.Audience, repos.Stories)
	reqs := makeRequests(viewerIDs, reads)

	results := []scenarioResult{
		runScenario(ctx, "No cache", service.NewFeedService(repos, authz, nil), nil, reqs, invalidateN),
	}

	mem := cache.NewMemoryFeedCache(cache.NewStore[[]model.StoryGroup](cfg.Story.CacheTTL))
	results = append(results, runScenario(ctx, "Memory cache", service.NewFeedService(repos, authz, mem), mem, reqs, invalidateN))

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			fmt.Printf("skip redis scenario: %v\n", err)
		} else {
			rc := cache.NewRedisFeedCache(client, cfg.Story.CacheTTL)
			rc.Invalidate(ctx, viewerIDs...)
			r := runScenario(ctx, "Redis cache", service.NewFeedService(repos, authz, rc), rc, reqs, invalidateN)
			if info, err := client.Info(ctx, "memory").Result(); err == nil {
				r.memoryBytes = parseRedisMemory(info)
			}
			results = append(results, r)
		}
	}

	fmt.Printf("\nFeed latency (%d reads across %d viewers, %d authors)\n", reads, viewers, len(authorIDs))
	for _, r := range results {
		fmt.Printf("%-14s avg=%v p95=%v p99=%v hits=%d misses=%d groups/read=%.1f mem=%s\n",
			r.name, avg(r.durations), pct(r.durations, 0.95), pct(r.durations, 0.99),
			r.stats.Hits, r.stats.Misses, r.groupsPerRead, formatBytes(r.memoryBytes),
		)
	}
	cleanup(db)
}

type scenarioResult struct {
	name          string
	durations     []time.Duration
	stats         cache.Stats
	groupsPerRead float64
	memoryBytes   int64
}

func runScenario(ctx context.Context, name string, feeds service.FeedService, c cache.FeedCache, reqs []string, invalidateEvery int) scenarioResult {
	fmt.Printf("  %s...", name)
	out := make([]time.Duration, 0, len(reqs))
	var groups int
	for i, viewer := range reqs {
		if c != nil && invalidateEvery > 0 && i%invalidateEvery == 0 {
			c.Invalidate(ctx, viewer)
		}
		vctx := auth.WithUserID(ctx, viewer)
		start := time.Now()
		gs, err := feeds.ListFeed(vctx)
		if err != nil {
			panic(err)
		}
		out = append(out, time.Since(start))
		groups += len(gs)
	}
	fmt.Println(" done")
	r := scenarioResult{name: name, durations: out, groupsPerRead: float64(groups) / float64(len(reqs))}
	if c != nil {
		r.stats = c.Stats()
	}
	return r
}

func seed(db *gorm.DB, viewers, authors, perAuthor int) ([]string, []string) {
	now := time.Now().UTC()
	authorIDs := make([]string, authors)
	stories := make([]model.Story, 0, authors*perAuthor)
	privacies := []model.Privacy{model.PrivacyPublic, model.PrivacyPublic, model.PrivacyFollowers, model.PrivacyCloseFriends}
	for a := range authorIDs {
		authorIDs[a] = fmt.Sprintf("%sauthor-%d", benchPrefix, a)
		for s := 0; s < perAuthor; s++ {
			created := now.Add(-time.Duration(a*perAuthor+s) * time.Minute)
			stories = append(stories, model.Story{
				ID:            benchPrefix + uuid.NewString()[:30],
				AuthorID:      authorIDs[a],
				MediaURL:      "http://cdn.bench/" + authorIDs[a],
				MediaType:     model.MediaImage,
				DurationHours: 24,
				CreatedAt:     created,
				ExpiresAt:     created.Add(24 * time.Hour),
				IsActive:      true,
				Privacy:       privacies[s%len(privacies)],
			})
		}
	}
	mustDo(db.CreateInBatches(&stories, 500).Error)

	rnd := rand.New(rand.NewSource(42))
	viewerIDs := make([]string, viewers)
	follows := make([]model.Follow, 0, viewers*authors/2)
	for v := range viewerIDs {
		viewerIDs[v] = fmt.Sprintf("%sviewer-%d", benchPrefix, v)
		for _, a := range authorIDs {
			if rnd.Float64() < 0.5 {
				follows = append(follows, model.Follow{ID: uuid.NewString(), FollowerID: viewerIDs[v], FolloweeID: a, CreatedAt: now})
			}
		}
	}
	mustDo(db.CreateInBatches(&follows, 1000).Error)
	return viewerIDs, authorIDs
}

func cleanup(db *gorm.DB) {
	like := benchPrefix + "%"
	mustDo(db.Where("author_id LIKE ?", like).Delete(&model.Story{}).Error)
	mustDo(db.Where("follower_id LIKE ?", like).Delete(&model.Follow{}).Error)
}

// makeRequests 少数观众读得更频繁
func makeRequests(viewers []string, n int) []string {
	out := make([]string, n)
	rnd := rand.New(rand.NewSource(7))
	for i := range out {
		idx := int(math.Pow(rnd.Float64(), 2) * float64(len(viewers)))
		out[i] = viewers[idx]
	}
	return out
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// parseRedisMemory extracts used_memory from Redis INFO
func parseRedisMemory(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "used_memory:"); ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
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

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), vs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func mustDo(err error) {
	if err != nil {
		panic(err)
	}
}
