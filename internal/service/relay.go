package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/internal/cache"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/realtime"
	"github.com/d60-Lab/storyline/pkg/logger"
)

// Relay 从 story_events 外发盒领取事件，逐个观众计算可见性后推送到实时通道
type Relay struct {
	repos        Repos
	authz        *Authorizer
	publisher    realtime.Publisher
	feeds        cache.FeedCache
	batchSize    int
	claimLimit   int
	pollInterval time.Duration
	workers      int
	metricsCh    chan time.Duration // outbox->processed latency

	delivered atomic.Int64
	failed    atomic.Int64
}

func NewRelay(repos Repos, authz *Authorizer, publisher realtime.Publisher, feeds cache.FeedCache, workers int, pollInterval time.Duration) *Relay {
	if workers <= 0 {
		workers = 2
	}
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	return &Relay{
		repos:        repos,
		authz:        authz,
		publisher:    publisher,
		feeds:        feeds,
		batchSize:    500,
		claimLimit:   64,
		pollInterval: pollInterval,
		workers:      workers,
		metricsCh:    make(chan time.Duration, 4096),
	}
}

// Metrics 每处理完一条事件发送一次外发延迟
func (w *Relay) Metrics() <-chan time.Duration { return w.metricsCh }

type RelayCounters struct {
	Delivered int64
	Failed    int64
}

func (w *Relay) Counters() RelayCounters {
	return RelayCounters{Delivered: w.delivered.Load(), Failed: w.failed.Load()}
}

// Start 启动若干 worker 轮询外发盒；返回停止函数
func (w *Relay) Start() func(context.Context) error {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < w.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(stop)
		}()
	}
	return func(ctx context.Context) error {
		close(stop)
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Relay) loop(stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := w.ProcessOnce(context.Background()); err != nil {
				logger.Warn("relay claim failed", zap.Error(err))
			}
		}
	}
}

// ProcessOnce 领取一批 pending 事件并扇出，返回处理的事件数
func (w *Relay) ProcessOnce(ctx context.Context) (int, error) {
	batch, err := w.repos.Events.Claim(ctx, w.claimLimit)
	if err != nil {
		return 0, err
	}
	for _, ev := range batch {
		n := w.deliver(ctx, ev)
		if err := w.repos.Events.MarkDone(ctx, ev.ID, n); err != nil {
			logger.Warn("relay mark done failed", zap.String("event_id", ev.ID), zap.Error(err))
		}
		if !ev.CreatedAt.IsZero() {
			select {
			case w.metricsCh <- time.Since(ev.CreatedAt):
			default:
			}
		}
	}
	return len(batch), nil
}

// deliver 推给作者本人和全部粉丝；created 只推给可见的人
func (w *Relay) deliver(ctx context.Context, ev *model.StoryEvent) int64 {
	story, err := w.repos.Stories.GetByID(ctx, ev.StoryID)
	if err != nil {
		logger.Warn("relay load story failed", zap.String("story_id", ev.StoryID), zap.Error(err))
		return 0
	}

	var sent int64
	send := func(recipients []string) {
		touched := make([]string, 0, len(recipients))
		for _, viewer := range recipients {
			out, ok := w.eventFor(ctx, ev, story, viewer)
			if !ok {
				continue
			}
			if err := w.publisher.Publish(ctx, realtime.ViewerTopic(viewer), out); err != nil {
				w.failed.Add(1)
				logger.Warn("relay publish failed", zap.String("viewer_id", viewer), zap.String("story_id", story.ID), zap.Error(err))
				continue
			}
			w.delivered.Add(1)
			sent++
			touched = append(touched, viewer)
		}
		if w.feeds != nil && len(touched) > 0 {
			w.feeds.Invalidate(ctx, touched...)
		}
	}

	send([]string{story.AuthorID})
	offset := 0
	for {
		fans, err := w.repos.Fans.ListFans(ctx, story.AuthorID, offset, w.batchSize)
		if err != nil {
			logger.Warn("relay list fans failed", zap.String("author_id", story.AuthorID), zap.Error(err))
			break
		}
		ids := make([]string, len(fans))
		for i, f := range fans {
			ids[i] = f.FanID
		}
		send(ids)
		if len(fans) < w.batchSize {
			break
		}
		offset += w.batchSize
	}
	return sent
}

func (w *Relay) eventFor(ctx context.Context, ev *model.StoryEvent, story *model.Story, viewer string) (realtime.Event, bool) {
	out := realtime.Event{StoryID: story.ID, AuthorID: story.AuthorID}
	switch ev.Kind {
	case model.EventCreated:
		if !w.authz.CanView(ctx, story, viewer) {
			return out, false
		}
		out.Kind, out.CanView, out.Story = realtime.KindCreated, true, story
	case model.EventUpdated:
		out.Kind = realtime.KindUpdated
		out.CanView = w.authz.CanView(ctx, story, viewer)
		if out.CanView {
			out.Story = story
		}
	case model.EventDeleted:
		out.Kind = realtime.KindDeleted
	default:
		return out, false
	}
	return out, true
}
