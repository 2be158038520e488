package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/d60-Lab/storyline/pkg/logger"
)

func newRelayCommand(root *rootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Deliver story change events to viewers' realtime channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, root.cfg)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := shutdownContext()
				defer cancel()
				_ = a.Close(sctx)
			}()
			_, publisher, err := a.realtime()
			if err != nil {
				return err
			}
			relay := a.relay(publisher)

			if once {
				n, err := relay.ProcessOnce(ctx)
				if err != nil {
					return err
				}
				logger.Info("relay pass done", zap.Int("events", n), zap.Int64("delivered", relay.Counters().Delivered))
				return nil
			}

			stopRelay := relay.Start()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					sctx, cancel := shutdownContext()
					defer cancel()
					return stopRelay(sctx)
				case <-ticker.C:
					c := relay.Counters()
					logger.Info("relay progress", zap.Int64("delivered", c.Delivered), zap.Int64("failed", c.Failed))
				}
			}
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process one batch of pending events and exit")
	return cmd
}
