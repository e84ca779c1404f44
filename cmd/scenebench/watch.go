package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/glasskit/composerlink/internal/client"
	"github.com/glasskit/composerlink/internal/scene"
	"github.com/glasskit/composerlink/internal/transport"
)

// printingListener logs each delivered state update.
type printingListener struct {
	logger *zap.Logger
}

func (p *printingListener) OnStateUpdate(u scene.StateUpdate) {
	p.logger.Info("state update",
		zap.Int64("sequenceID", u.SequenceID),
		zap.Int("windows", len(u.Windows)),
	)
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Register an update listener and tail state updates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			conn, err := transport.DialWS(ctx, channelURL(cfg), cfg.Channel.CompressionThreshold, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			registry := client.NewRegistry(logger)
			listener := &printingListener{logger: logger}

			cached, err := registry.AddListener(listener, conn)
			if err != nil {
				return err
			}
			logger.Info("listening for updates",
				zap.Int64("cachedSequenceID", cached.SequenceID),
				zap.Int("cachedWindows", len(cached.Windows)),
			)

			<-ctx.Done()
			return registry.RemoveListener(listener, conn)
		},
	}
}
