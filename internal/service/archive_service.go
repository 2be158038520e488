package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/pkg/logger"
)

const archiveBatch = 200

// ArchiveService 归档：过期快拍的快照和作者的归档列表
type ArchiveService struct {
	repos Repos
	now   clock
}

func NewArchiveService(repos Repos, opts ...Option) *ArchiveService {
	st := apply(opts)
	return &ArchiveService{repos: repos, now: st.now}
}

// ListArchive 当前用户自己的归档，新的在前
func (s *ArchiveService) ListArchive(ctx context.Context, p, size int) ([]*model.StoryArchive, error) {
	user, err := auth.Require(ctx)
	if err != nil {
		return nil, err
	}
	offset, limit := page(p, size)
	return s.repos.Archives.ListByAuthor(ctx, user, offset, limit)
}

// ArchiveExpired 为已过期但还没有快照的快拍补快照，返回处理条数
func (s *ArchiveService) ArchiveExpired(ctx context.Context) (int, error) {
	now := s.now()
	total := 0
	for {
		batch, err := s.repos.Stories.ListExpiredUnarchived(ctx, now, archiveBatch)
		if err != nil {
			return total, err
		}
		for _, st := range batch {
			if _, err := s.repos.Archives.Ensure(ctx, model.SnapshotOf(st, model.ArchiveExpired, now)); err != nil {
				return total, err
			}
			total++
		}
		if len(batch) < archiveBatch {
			return total, nil
		}
	}
}

// Start 周期性归档；返回停止函数
func (s *ArchiveService) Start(interval time.Duration) func(context.Context) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				n, err := s.ArchiveExpired(context.Background())
				if err != nil {
					logger.Warn("archive expired stories failed", zap.Error(err))
				} else if n > 0 {
					logger.Info("archived expired stories", zap.Int("count", n))
				}
			}
		}
	}()
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
