package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/model"
	"github.com/d60-Lab/storyline/internal/playback"
	"github.com/d60-Lab/storyline/internal/preload"
	"github.com/d60-Lab/storyline/internal/realtime"
	"github.com/d60-Lab/storyline/internal/service"
	"github.com/d60-Lab/storyline/pkg/logger"
)

type watchOptions struct {
	UserID     string
	StartGroup int
	Tick       time.Duration
}

func newWatchCommand(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Play a user's story feed in the terminal with live updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.UserID == "" {
				return errors.New("--user is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, root, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.UserID, "user", "u", "", "viewer user id")
	cmd.Flags().IntVar(&opts.StartGroup, "group", 0, "index of the author group to start from")
	cmd.Flags().DurationVar(&opts.Tick, "tick", 0, "progress tick (default 100ms)")
	return cmd
}

// liveSink 实时变更同时写入集合与播放会话
type liveSink struct {
	coll   *realtime.Collection
	engine *playback.Engine
}

func (s *liveSink) Insert(st model.Story) bool { return s.coll.Insert(st) }

func (s *liveSink) Update(st model.Story) bool {
	ok := s.coll.Update(st)
	if ok {
		s.engine.UpdateStory(st)
	}
	return ok
}

func (s *liveSink) Remove(id string) bool {
	ok := s.coll.Remove(id)
	s.engine.RemoveStory(id)
	return ok
}

func runWatch(ctx context.Context, root *rootOptions, opts *watchOptions, out io.Writer) error {
	cfg := root.cfg
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := shutdownContext()
		defer cancel()
		_ = a.Close(sctx)
	}()

	viewerCtx := auth.WithUserID(ctx, opts.UserID)
	groups, err := service.NewFeedService(a.repos, a.authz, a.feeds).ListFeed(viewerCtx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Fprintln(out, "no stories to watch")
		return nil
	}

	preloader := preload.New(preload.NewHTTPLoader(10*time.Second), cfg.Story.PreloadConcurrency)
	defer preloader.Stop()

	engine, err := playback.New(groups, playback.Options{
		Tick:       opts.Tick,
		Recorder:   service.NewStoryService(a.repos, a.authz, service.NewPublisher(a.db), a.feeds),
		Responder:  service.NewInteractiveService(a.repos, a.authz),
		Prefetcher: preloader,
		Context:    viewerCtx,
		StartGroup: opts.StartGroup,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	if transport, _, err := a.realtime(); err != nil {
		logger.Warn("live updates disabled", zap.Error(err))
	} else {
		rec := realtime.NewReconciler(transport, &liveSink{coll: realtime.NewCollection(groups), engine: engine}, opts.UserID,
			realtime.WithFeedCache(a.feeds),
			realtime.WithUpdateDebounce(cfg.Story.UpdateDebounce),
		)
		unsub := rec.OnStatus(func(st realtime.Status) {
			fmt.Fprintf(out, "[live] %s\n", st)
		})
		defer unsub()
		if err := rec.Start(ctx); err != nil {
			logger.Warn("subscribe live updates", zap.Error(err))
		} else {
			defer rec.Stop()
		}
	}

	last := ""
	unsub := engine.Subscribe(func(st playback.State) {
		if st.Closed {
			return
		}
		// 实时删除可能让分组下标偏移，这里只作展示
		author := "?"
		if st.GroupIndex < len(groups) {
			author = groups[st.GroupIndex].AuthorID
		}
		line := fmt.Sprintf("%s  story #%d", author, st.StoryIndex+1)
		if st.Paused {
			line += "  (paused)"
		}
		if line != last {
			last = line
			fmt.Fprintln(out, line)
		}
	})
	defer unsub()

	engine.Start()
	select {
	case <-engine.Done():
		fmt.Fprintln(out, "finished")
	case <-ctx.Done():
	}
	s := preloader.Stats()
	logger.Info("watch done", zap.Int64("preloaded", s.Loaded), zap.Int64("preload_failed", s.Failed))
	return nil
}
