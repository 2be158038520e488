package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/storyline/config"
	"github.com/d60-Lab/storyline/internal/cache"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/realtime"
	"github.com/d60-Lab/storyline/internal/service"
	"github.com/d60-Lab/storyline/pkg/database"
	"github.com/d60-Lab/storyline/pkg/logger"
)

// app 各子命令共享的基础设施
type app struct {
	cfg   *config.Config
	db    *gorm.DB
	redis *redis.Client
	repos service.Repos
	authz *service.Authorizer
	feeds cache.FeedCache

	closers []func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := database.InitDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, repos: service.NewRepos(db)}
	a.authz = service.NewAuthorizer(a.repos.Follows, a.repos.Audience, a.repos.Stories)

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, using in-process feed cache", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			_ = client.Close()
		} else {
			a.redis = client
			a.onClose(func(context.Context) error { return client.Close() })
		}
	}

	if a.redis != nil {
		a.feeds = cache.NewRedisFeedCache(a.redis, cfg.Story.CacheTTL)
	} else {
		store := cache.NewStore[[]model.StoryGroup](cfg.Story.CacheTTL)
		a.onClose(store.StartSweeper(cfg.Story.CacheSweepInterval))
		a.feeds = cache.NewMemoryFeedCache(store)
	}
	a.onClose(func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	return a, nil
}

func (a *app) onClose(fn func(context.Context) error) { a.closers = append(a.closers, fn) }

// Close 逆序释放资源
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// realtime 按配置选择实时通道
func (a *app) realtime() (realtime.Transport, realtime.Publisher, error) {
	switch a.cfg.Realtime.Driver {
	case "mqtt":
		t, err := realtime.DialMQTT(a.cfg.Realtime.MQTTBroker, a.cfg.Realtime.ClientID)
		if err != nil {
			return nil, nil, err
		}
		a.onClose(func(context.Context) error { t.Close(); return nil })
		return t, t, nil
	case "", "redis":
		if a.redis == nil {
			return nil, nil, errors.New("realtime driver redis needs a reachable redis")
		}
		return realtime.NewRedisTransport(a.redis), realtime.NewRedisPublisher(a.redis), nil
	default:
		return nil, nil, fmt.Errorf("unknown realtime driver %q", a.cfg.Realtime.Driver)
	}
}

func (a *app) relay(publisher realtime.Publisher) *service.Relay {
	return service.NewRelay(a.repos, a.authz, publisher, a.feeds, a.cfg.Story.RelayWorkers, a.cfg.Story.RelayPollInterval)
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
