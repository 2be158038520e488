package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/internal/api/handler"
	"github.com/d60-Lab/storyline/internal/api/router"
	"github.com/d60-Lab/storyline/internal/auth"
	"github.com/d60-Lab/storyline/internal/blob"
	"github.com/d60-Lab/storyline/internal/interactive"
	"github.com/d60-Lab/storyline/internal/media"
	"github.com/d60-Lab/storyline/internal/service"
	"github.com/d60-Lab/storyline/internal/upload"
	"github.com/d60-Lab/storyline/pkg/database"
	"github.com/d60-Lab/storyline/pkg/logger"
	"github.com/d60-Lab/storyline/pkg/tracing"
)

type serveOptions struct {
	Migrate   bool
	NoRelay   bool
	NoArchive bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the relay and archive workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "run migrations before serving")
	cmd.Flags().BoolVar(&opts.NoRelay, "no-relay", false, "do not run the realtime relay in this process")
	cmd.Flags().BoolVar(&opts.NoArchive, "no-archive", false, "do not run the periodic archive job")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions, opts *serveOptions) error {
	cfg := root.cfg
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := shutdownContext()
		defer cancel()
		if err := a.Close(sctx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
		_ = shutdownTracing(sctx)
	}()
	if opts.Migrate {
		if err := database.Migrate(a.db); err != nil {
			return err
		}
	}

	store, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	var grabber media.FrameGrabber
	if ff := media.NewFFmpeg(); ff.Available() {
		grabber = ff
	} else {
		logger.Warn("ffmpeg not found, video thumbnails and probes disabled")
	}

	replicator := service.NewFanReplicator(a.repos.Fans, 0)
	a.onClose(replicator.Start(4))

	coordinator := upload.NewCoordinator(
		upload.OptionsFrom(cfg.Story),
		media.NewProcessor(grabber),
		store,
		a.repos.Stories,
		a.repos.Elements,
		a.repos.Audience,
		a.repos.Events,
		interactive.NewValidator(),
		a.feeds,
	)
	archive := service.NewArchiveService(a.repos)
	h := handler.NewHandler(handler.Services{
		Stories:        service.NewStoryService(a.repos, a.authz, service.NewPublisher(a.db), a.feeds),
		Feed:           service.NewFeedService(a.repos, a.authz, a.feeds),
		Interactive:    service.NewInteractiveService(a.repos, a.authz),
		Highlights:     service.NewHighlightService(a.repos),
		Archive:        archive,
		Relationships:  service.NewRelationshipService(a.repos.Follows, a.repos.Fans, a.repos.Audience, replicator, a.feeds),
		Coordinator:    coordinator,
		MaxUploadBytes: cfg.Story.MaxUploadBytes,
	})

	if !opts.NoArchive {
		a.onClose(archive.Start(cfg.Story.ArchiveInterval))
	}
	if !opts.NoRelay {
		_, publisher, err := a.realtime()
		if err != nil {
			return err
		}
		a.onClose(a.relay(publisher).Start())
	}

	deps := router.Deps{Handler: h, Tokens: auth.NewIssuer(cfg.JWT.Secret, 0)}
	if local, ok := store.(*blob.LocalStore); ok {
		deps.Media = local.Handler()
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router.Setup(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	sctx, cancel := shutdownContext()
	defer cancel()
	return srv.Shutdown(sctx)
}
