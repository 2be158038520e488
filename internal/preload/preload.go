// Package preload fetches upcoming story media in the background with a
// bounded number of loads in flight.
package preload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/pkg/logger"
)

// DefaultConcurrency is the max number of loads in flight.
const DefaultConcurrency = 3

// Loader fetches one URL.
type Loader interface {
	Load(ctx context.Context, url string) error
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, url string) error

func (f LoaderFunc) Load(ctx context.Context, url string) error { return f(ctx, url) }

// HTTPLoader warms an HTTP cache by reading and discarding the body.
type HTTPLoader struct {
	Client *http.Client
}

func NewHTTPLoader(timeout time.Duration) *HTTPLoader {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPLoader{Client: &http.Client{Timeout: timeout}}
}

func (l *HTTPLoader) Load(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("preload %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// Preloader queues URLs and loads each at most once.
type Preloader struct {
	loader Loader
	limit  int

	mu       sync.Mutex
	queue    []string
	seen     map[string]chan struct{} // queued, in flight or attempted; closed once attempted
	inFlight int
	maxSeen  int
	loaded   int64
	failed   int64
	stopped  bool
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	idle     *sync.Cond
}

func New(loader Loader, concurrency int) *Preloader {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Preloader{
		loader: loader,
		limit:  concurrency,
		seen:   make(map[string]chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Enqueue adds URLs not already queued or attempted and returns how many were added.
func (p *Preloader) Enqueue(urls ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return 0
	}
	added := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := p.seen[u]; ok {
			continue
		}
		p.seen[u] = make(chan struct{})
		p.queue = append(p.queue, u)
		added++
	}
	p.pumpLocked()
	return added
}

// pumpLocked starts loads until the limit is reached or the queue is empty.
func (p *Preloader) pumpLocked() {
	for !p.stopped && p.inFlight < p.limit && len(p.queue) > 0 {
		u := p.queue[0]
		p.queue = p.queue[1:]
		p.inFlight++
		if p.inFlight > p.maxSeen {
			p.maxSeen = p.inFlight
		}
		p.wg.Add(1)
		go p.run(u)
	}
}

func (p *Preloader) run(u string) {
	defer p.wg.Done()
	err := p.loader.Load(p.ctx, u)

	p.mu.Lock()
	close(p.seen[u])
	p.inFlight--
	if err != nil {
		p.failed++
	} else {
		p.loaded++
	}
	p.pumpLocked()
	if p.inFlight == 0 && len(p.queue) == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()

	if err != nil {
		logger.Debug("preload failed", zap.String("url", u), zap.Error(err))
	}
}

// Wait blocks until the queue drains and nothing is in flight.
func (p *Preloader) Wait() {
	p.mu.Lock()
	for p.inFlight > 0 || (len(p.queue) > 0 && !p.stopped) {
		p.idle.Wait()
	}
	p.mu.Unlock()
}

// Stop drops queued URLs, cancels loads in flight and waits for them.
func (p *Preloader) Stop() {
	p.mu.Lock()
	p.stopped = true
	for _, u := range p.queue {
		close(p.seen[u])
	}
	p.queue = nil
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	p.idle.Broadcast()
	p.mu.Unlock()
}

// IsPreloaded reports whether u was queued or attempted.
func (p *Preloader) IsPreloaded(u string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.seen[u]
	return ok
}

// Ready returns a channel closed once u has been attempted, whether the load
// worked or not. URLs never enqueued, and those dropped by Stop, are ready
// at once.
func (p *Preloader) Ready(u string) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.seen[u]; ok {
		return ch
	}
	return closedCh
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

type Stats struct {
	Queued      int   `json:"queued"`
	InFlight    int   `json:"in_flight"`
	MaxInFlight int   `json:"max_in_flight"`
	Loaded      int64 `json:"loaded"`
	Failed      int64 `json:"failed"`
}

func (p *Preloader) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Queued:      len(p.queue),
		InFlight:    p.inFlight,
		MaxInFlight: p.maxSeen,
		Loaded:      p.loaded,
		Failed:      p.failed,
	}
}
