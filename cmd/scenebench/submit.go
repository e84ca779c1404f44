package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/glasskit/composerlink/internal/client"
	"github.com/glasskit/composerlink/internal/scene"
	"github.com/glasskit/composerlink/internal/transport"
)

func newSubmitCmd() *cobra.Command {
	var (
		ratePerSec float64
		count      int
		layers     int
		oneway     bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit transaction batches at a bounded rate",
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

			ch := client.NewChannel(conn, logger)
			limiter := rate.NewLimiter(rate.Limit(ratePerSec), 1)
			token := scene.NewApplyToken()

			logger.Info("submitting batches",
				zap.Int("count", count),
				zap.Float64("rate", ratePerSec),
				zap.Bool("oneway", oneway),
				zap.Stringer("applyToken", token),
			)

			start := time.Now()
			for i := 0; i < count; i++ {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				b := scene.NewTransactionBatch()
				b.ApplyToken = token
				if oneway {
					b.Flags |= scene.FlagOneWay
				}
				for l := 0; l < layers; l++ {
					s := b.LayerState(uint64(l + 1))
					s.What = scene.ChangeCrop | scene.ChangeZ
					s.Z = int32(i)
					s.Crop = [4]int32{0, 0, int32(100 + i), int32(100 + i)}
				}
				if err := ch.Submit(ctx, b); err != nil {
					logger.Error("submit failed", zap.Int("batch", i), zap.Error(err))
					return err
				}
			}

			logger.Info("done",
				zap.Int("submitted", count),
				zap.Duration("elapsed", time.Since(start)),
			)
			return nil
		},
	}

	cmd.Flags().Float64Var(&ratePerSec, "rate", 60, "batches per second")
	cmd.Flags().IntVar(&count, "count", 600, "number of batches to submit")
	cmd.Flags().IntVar(&layers, "layers", 3, "composer states per batch")
	cmd.Flags().BoolVar(&oneway, "oneway", false, "use fire-and-forget submission")
	return cmd
}
