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

	"github.com/d60-Lab/storyline/config"
	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/model"
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

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func main() {
	cfg := must(config.Load())
	db := must(database.InitDB(cfg))
	if err := database.Migrate(db); err != nil {
		panic(err)
	}

	N := envInt("N", 10000)
	CONC := envInt("CONC", 1)
	PAGE := envInt("PAGE", 50)

	repos := service.NewRepos(db)
	replicator := service.NewFanReplicator(repos.Fans, 100000)
	stop := replicator.Start(8)
	relSvc := service.NewRelationshipService(repos.Follows, repos.Fans, repos.Audience, replicator, nil)

	// 名人被 N 个新用户关注，粉丝表由复制器异步写入
	celeb := "fw-celeb"
	_ = db.Where("followee_id = ?", celeb).Delete(&model.Follow{}).Error
	_ = db.Where("user_id = ?", celeb).Delete(&model.Fan{}).Error
	users := make([]string, N)
	for i := range users {
		users[i] = uuid.NewString()
	}

	repRecs := make([]time.Duration, 0, N)
	doneRep := make(chan struct{})
	repFinished := make(chan struct{})
	go func() {
		defer close(repFinished)
		for {
			select {
			case d := <-replicator.Metrics():
				repRecs = append(repRecs, d)
			case <-doneRep:
				return
			}
		}
	}()

	maxQ := 0
	quitSample := make(chan struct{})
	sampleDone := make(chan struct{})
	go func() {
		defer close(sampleDone)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if q := replicator.QueueLen(); q > maxQ {
					maxQ = q
				}
			case <-quitSample:
				return
			}
		}
	}()

	workers := CONC
	if workers > N {
		workers = N
	}
	feed := make(chan int, N)
	for i := 0; i < N; i++ {
		feed <- i
	}
	close(feed)
	latCh := make(chan time.Duration, N)
	doneCh := make(chan struct{}, workers)
	t0 := time.Now()
	for w := 0; w < workers; w++ {
		go func() {
			for i := range feed {
				ctx := auth.WithUserID(context.Background(), users[i])
				st := time.Now()
				if err := relSvc.Follow(ctx, celeb); err != nil {
					panic(err)
				}
				latCh <- time.Since(st)
			}
			doneCh <- struct{}{}
		}()
	}
	for w := 0; w < workers; w++ {
		<-doneCh
	}
	close(latCh)
	followDur := time.Since(t0)
	close(quitSample)
	<-sampleDone
	lat := make([]time.Duration, 0, N)
	for d := range latCh {
		lat = append(lat, d)
	}

	drainStart := time.Now()
	_ = stop(context.Background())
	drainDur := time.Since(drainStart)
	close(doneRep)
	<-repFinished

	ctx := context.Background()
	q0 := time.Now()
	fans, _ := repos.Fans.ListFans(ctx, celeb, 0, PAGE)
	fansDur := time.Since(q0)

	q1 := time.Now()
	_, _ = repos.Follows.FolloweeIDs(ctx, users[0])
	follDur := time.Since(q1)

	fmt.Printf("N=%d CONC=%d PAGE=%d\n", N, CONC, PAGE)
	fmt.Printf("Follow latency total: %v, per op: %v, p50: %v, p95: %v, p99: %v\n",
		followDur, followDur/time.Duration(N), pct(lat, 0.50), pct(lat, 0.95), pct(lat, 0.99))
	rc := replicator.Counters()
	fmt.Printf("Replicated: applied=%d failed=%d dropped=%d\n", rc.Applied, rc.Failed, rc.Dropped)
	fmt.Printf("Query fans(%d) latency: %v, rows=%d\n", PAGE, fansDur, len(fans))
	fmt.Printf("Query followees(user0) latency: %v\n", follDur)
	if len(repRecs) > 0 {
		fmt.Printf("Replication landing: samples=%d, p50=%v, p95=%v, p99=%v, maxQueue=%d, drain=%v\n",
			len(repRecs), pct(repRecs, 0.50), pct(repRecs, 0.95), pct(repRecs, 0.99), maxQ, drainDur)
	}
}
