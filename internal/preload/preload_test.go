package preload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreloader_BoundedAndOnce(t *testing.T) {
	var (
		mu       sync.Mutex
		calls    = map[string]int{}
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	loader := LoaderFunc(func(ctx context.Context, url string) error {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		calls[url]++
		mu.Unlock()
		inFlight.Add(-1)
		if url == "u3" {
			return errors.New("boom")
		}
		return nil
	})

	p := New(loader, 3)
	defer p.Stop()

	urls := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		urls = append(urls, fmt.Sprintf("u%d", i))
	}
	assert.Equal(t, 20, p.Enqueue(urls...))
	assert.Equal(t, 0, p.Enqueue("u1", "u2", ""))
	p.Wait()

	// 失败不重试
	assert.Equal(t, 0, p.Enqueue("u3"))
	p.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	mu.Lock()
	for _, u := range urls {
		assert.Equal(t, 1, calls[u], u)
	}
	mu.Unlock()

	st := p.Stats()
	assert.Equal(t, int64(19), st.Loaded)
	assert.Equal(t, int64(1), st.Failed)
	assert.LessOrEqual(t, st.MaxInFlight, 3)
	assert.Equal(t, 0, st.InFlight)
	assert.True(t, p.IsPreloaded("u7"))
	assert.False(t, p.IsPreloaded("nope"))
}

func TestPreloader_StopCancelsInFlight(t *testing.T) {
	started := make(chan struct{}, 3)
	loader := LoaderFunc(func(ctx context.Context, url string) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})
	p := New(loader, 3)
	p.Enqueue("a", "b", "c", "d", "e")
	for i := 0; i < 3; i++ {
		<-started
	}
	assert.Equal(t, 2, p.Stats().Queued)

	p.Stop()
	st := p.Stats()
	assert.Equal(t, 0, st.InFlight)
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, 0, p.Enqueue("f"))
	p.Wait()
}

func TestPreloader_Ready(t *testing.T) {
	release := make(chan struct{})
	loader := LoaderFunc(func(ctx context.Context, url string) error {
		if url == "slow" {
			<-release
		}
		if url == "bad" {
			return errors.New("boom")
		}
		return nil
	})
	p := New(loader, 1)

	isReady := func(u string) bool {
		select {
		case <-p.Ready(u):
			return true
		default:
			return false
		}
	}

	assert.True(t, isReady("never-enqueued"))

	p.Enqueue("slow", "bad", "queued")
	assert.False(t, isReady("slow"))
	assert.False(t, isReady("bad"))

	close(release)
	require.Eventually(t, func() bool { return isReady("slow") && isReady("bad") && isReady("queued") },
		time.Second, 5*time.Millisecond, "failed loads count as attempted")
	p.Stop()
}

func TestPreloader_StopReleasesWaiters(t *testing.T) {
	loader := LoaderFunc(func(ctx context.Context, url string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	p := New(loader, 1)
	p.Enqueue("a", "b")
	a, b := p.Ready("a"), p.Ready("b")

	p.Stop()
	for _, ch := range []<-chan struct{}{a, b} {
		select {
		case <-ch:
		default:
			t.Fatal("ready channel left open after stop")
		}
	}
}

func TestHTTPLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("media"))
	}))
	defer srv.Close()

	l := NewHTTPLoader(time.Second)
	require.NoError(t, l.Load(context.Background(), srv.URL+"/a.jpg"))
	assert.Error(t, l.Load(context.Background(), srv.URL+"/missing"))
}
