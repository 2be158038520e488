package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/internal/cache"
	"github.com/d60-Lab/storyline/internal/ratelimit"
	"github.com/d60-Lab/storyline/pkg/logger"
	"github.com/d60-Lab/storyline/pkg/observable"
)

const DefaultUpdateDebounce = 500 * time.Millisecond

var (
	ErrStarted = errors.New("realtime: reconciler already started")
	ErrStopped = errors.New("realtime: reconciler stopped")
)

// Reconciler applies one viewer's change stream to a Sink. Updates are
// debounced per story with the latest event winning; deletes apply at once
// and cancel any pending update.
type Reconciler struct {
	transport Transport
	sink      Sink
	viewerID  string
	feeds     cache.FeedCache
	delay     time.Duration

	debounce *ratelimit.Debouncer
	status   *observable.Cell[Status]

	mu      sync.Mutex
	stopped bool
	sub     Subscription
	cancel context.CancelFunc
	done   chan struct{}

	created, updated, deleted, ignored atomic.Int64
}

type Option func(*Reconciler)

// WithFeedCache invalidates the viewer's cached feed on every applied change.
func WithFeedCache(c cache.FeedCache) Option { return func(r *Reconciler) { r.feeds = c } }

func WithUpdateDebounce(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.delay = d
		}
	}
}

func NewReconciler(t Transport, sink Sink, viewerID string, opts ...Option) *Reconciler {
	r := &Reconciler{
		transport: t,
		sink:      sink,
		viewerID:  viewerID,
		delay:     DefaultUpdateDebounce,
		debounce:  ratelimit.NewDebouncer(),
		status:    observable.NewCell(StatusClosed),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reconciler) Status() Status { return r.status.Get() }

// OnStatus registers fn for connection status changes.
func (r *Reconciler) OnStatus(fn func(Status)) func() { return r.status.Subscribe(fn) }

// Start subscribes to the viewer's topic and applies events until Stop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	if r.sub != nil {
		return ErrStarted
	}
	sub, err := r.transport.Subscribe(ctx, ViewerTopic(r.viewerID))
	if err != nil {
		r.status.Set(StatusErrored)
		return err
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.sub, r.cancel, r.done = sub, cancel, make(chan struct{})
	go r.loop(loopCtx, sub, r.done)
	return nil
}

// Stop unsubscribes and drops pending updates. A stopped reconciler cannot
// be restarted.
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	sub, cancel, done := r.sub, r.cancel, r.done
	r.sub, r.cancel, r.done = nil, nil, nil
	r.stopped = true
	r.mu.Unlock()

	r.debounce.Stop()
	if sub == nil {
		return nil
	}
	cancel()
	err := sub.Close()
	<-done
	r.status.Set(StatusClosed)
	return err
}

type Counters struct {
	Created, Updated, Deleted, Ignored int64
}

func (r *Reconciler) Counters() Counters {
	return Counters{
		Created: r.created.Load(),
		Updated: r.updated.Load(),
		Deleted: r.deleted.Load(),
		Ignored: r.ignored.Load(),
	}
}

func (r *Reconciler) loop(ctx context.Context, sub Subscription, done chan struct{}) {
	defer close(done)
	events, statuses := sub.Events(), sub.Status()
	for events != nil || statuses != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.Apply(ev)
		case st, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			r.status.Set(st)
		}
	}
}

// Apply merges one event into the sink.
func (r *Reconciler) Apply(ev Event) {
	switch ev.Kind {
	case KindCreated:
		if ev.Story == nil || !ev.CanView {
			r.ignored.Add(1)
			return
		}
		if r.sink.Insert(*ev.Story) {
			r.created.Add(1)
			r.invalidate()
		}
	case KindUpdated:
		r.debounce.Debounce(ev.StoryID, r.delay, func() { r.applyUpdate(ev) })
	case KindDeleted:
		r.debounce.Cancel(ev.StoryID)
		if r.sink.Remove(ev.StoryID) {
			r.deleted.Add(1)
			r.invalidate()
		}
	default:
		r.ignored.Add(1)
		logger.Debug("unknown story event", zap.String("kind", string(ev.Kind)))
	}
}

// applyUpdate removes a story the viewer lost access to and inserts one
// they were just granted, so an update can behave like a create or delete.
func (r *Reconciler) applyUpdate(ev Event) {
	switch {
	case !ev.CanView || ev.Story == nil:
		if r.sink.Remove(ev.StoryID) {
			r.updated.Add(1)
			r.invalidate()
		}
	case r.sink.Update(*ev.Story):
		r.updated.Add(1)
		r.invalidate()
	case r.sink.Insert(*ev.Story):
		r.created.Add(1)
		r.invalidate()
	default:
		r.ignored.Add(1)
	}
}

func (r *Reconciler) invalidate() {
	if r.feeds == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.feeds.Invalidate(ctx, r.viewerID)
}
