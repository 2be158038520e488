package service

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/internal/repository"
	"github.com/d60-Lab/storyline/pkg/logger"
)

type fanOp int

const (
	fanAdd fanOp = iota + 1
	fanRemove
)

type fanJob struct {
	op       fanOp
	authorID string
	fanID    string
	enqAt    time.Time
}

// shard 同一 (author, fan) 总落在同一个 worker，关注后立刻取关不会乱序
func (j fanJob) shard(n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(j.authorID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(j.fanID))
	return int(h.Sum32() % uint32(n))
}

// FanReplicator 异步维护粉丝冗余表，relay 按它决定把快拍事件推给谁
type FanReplicator struct {
	fanRepo   repository.FanRepository
	in        chan fanJob
	metricsCh chan time.Duration

	applied atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
	pending atomic.Int64
}

type ReplicatorCounters struct {
	Applied int64
	Failed  int64
	Dropped int64
}

func NewFanReplicator(fanRepo repository.FanRepository, queueSize int) *FanReplicator {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &FanReplicator{fanRepo: fanRepo, in: make(chan fanJob, queueSize), metricsCh: make(chan time.Duration, 4096)}
}

// Start 启动分发协程和 workers 个分片 worker；停止函数排空队列后返回
func (r *FanReplicator) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	shards := make([]chan fanJob, workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan fanJob, 64)
		wg.Add(1)
		go func(ch <-chan fanJob) {
			defer wg.Done()
			for job := range ch {
				r.apply(job)
			}
		}(shards[i])
	}

	stopCh := make(chan struct{})
	go func() {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		for {
			select {
			case job := <-r.in:
				shards[job.shard(len(shards))] <- job
			case <-stopCh:
				for {
					select {
					case job := <-r.in:
						shards[job.shard(len(shards))] <- job
					default:
						return
					}
				}
			}
		}
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(stopCh) })
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

func (r *FanReplicator) apply(job fanJob) {
	defer r.pending.Add(-1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	switch job.op {
	case fanAdd:
		err = r.fanRepo.Create(ctx, job.authorID, job.fanID)
	case fanRemove:
		err = r.fanRepo.Delete(ctx, job.authorID, job.fanID)
	}
	if err != nil {
		r.failed.Add(1)
		logger.Warn("replicate fan failed", zap.String("author", job.authorID), zap.String("fan", job.fanID), zap.Error(err))
	} else {
		r.applied.Add(1)
	}
	select {
	case r.metricsCh <- time.Since(job.enqAt):
	default:
	}
}

func (r *FanReplicator) enqueue(job fanJob) {
	r.pending.Add(1)
	select {
	case r.in <- job:
	default:
		r.pending.Add(-1)
		r.dropped.Add(1)
		logger.Warn("replicator queue full, drop", zap.String("author", job.authorID), zap.String("fan", job.fanID), zap.Int("op", int(job.op)))
	}
}

// EnqueueAdd fanID 开始关注 authorID
func (r *FanReplicator) EnqueueAdd(authorID, fanID string) {
	r.enqueue(fanJob{op: fanAdd, authorID: authorID, fanID: fanID, enqAt: time.Now()})
}

func (r *FanReplicator) EnqueueRemove(authorID, fanID string) {
	r.enqueue(fanJob{op: fanRemove, authorID: authorID, fanID: fanID, enqAt: time.Now()})
}

// Metrics 入队到落库的耗时
func (r *FanReplicator) Metrics() <-chan time.Duration { return r.metricsCh }

// QueueLen 已入队但尚未落库的任务数
func (r *FanReplicator) QueueLen() int { return int(r.pending.Load()) }

func (r *FanReplicator) Counters() ReplicatorCounters {
	return ReplicatorCounters{Applied: r.applied.Load(), Failed: r.failed.Load(), Dropped: r.dropped.Load()}
}
