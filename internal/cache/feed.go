package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/storyline/internal/model"
)

// FeedCache caches a viewer's story groups.
type FeedCache interface {
	Get(ctx context.Context, viewerID string) ([]model.StoryGroup, bool)
	Set(ctx context.Context, viewerID string, groups []model.StoryGroup)
	Invalidate(ctx context.Context, viewerIDs ...string)
	Stats() Stats
}

func feedKey(viewerID string) string { return fmt.Sprintf("feed:%s", viewerID) }

// MemoryFeedCache keeps feeds in process.
type MemoryFeedCache struct {
	store *Store[[]model.StoryGroup]
}

func NewMemoryFeedCache(store *Store[[]model.StoryGroup]) *MemoryFeedCache {
	return &MemoryFeedCache{store: store}
}

func (c *MemoryFeedCache) Get(_ context.Context, viewerID string) ([]model.StoryGroup, bool) {
	return c.store.Get(feedKey(viewerID))
}

func (c *MemoryFeedCache) Set(_ context.Context, viewerID string, groups []model.StoryGroup) {
	c.store.Set(feedKey(viewerID), groups)
}

func (c *MemoryFeedCache) Invalidate(_ context.Context, viewerIDs ...string) {
	for _, id := range viewerIDs {
		c.store.Delete(feedKey(id))
	}
}

func (c *MemoryFeedCache) Stats() Stats { return c.store.Stats() }

// RedisFeedCache stores feeds as JSON with a TTL so several API replicas
// share one cache. Redis failures degrade to misses.
type RedisFeedCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

func NewRedisFeedCache(client *redis.Client, ttl time.Duration) *RedisFeedCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisFeedCache{client: client, ttl: ttl, prefix: "story:"}
}

func (c *RedisFeedCache) key(viewerID string) string { return c.prefix + feedKey(viewerID) }

func (c *RedisFeedCache) Get(ctx context.Context, viewerID string) ([]model.StoryGroup, bool) {
	data, err := c.client.Get(ctx, c.key(viewerID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.errs.Add(1)
		}
		c.misses.Add(1)
		return nil, false
	}
	var out []model.StoryGroup
	if err := json.Unmarshal(data, &out); err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return out, true
}

func (c *RedisFeedCache) Set(ctx context.Context, viewerID string, groups []model.StoryGroup) {
	payload, err := json.Marshal(groups)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(viewerID), payload, c.ttl).Err(); err != nil {
		c.errs.Add(1)
	}
}

func (c *RedisFeedCache) Invalidate(ctx context.Context, viewerIDs ...string) {
	if len(viewerIDs) == 0 {
		return
	}
	keys := make([]string, len(viewerIDs))
	for i, id := range viewerIDs {
		keys[i] = c.key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.errs.Add(1)
	}
}

func (c *RedisFeedCache) Stats() Stats {
	st := Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Entries: -1}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}

// Errors reports how many Redis calls failed.
func (c *RedisFeedCache) Errors() int64 { return c.errs.Load() }
