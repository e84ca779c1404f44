package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/glasskit/composerlink/internal/compositor"
	"github.com/glasskit/composerlink/internal/config"
	"github.com/glasskit/composerlink/internal/transport"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Getenv("COMPOSERLINK_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.String("listen", cfg.Server.Listen),
		zap.String("wsPath", cfg.Server.WSPath),
		zap.Duration("publishInterval", cfg.Server.PublishInterval),
		zap.Int("compressionThreshold", cfg.Channel.CompressionThreshold),
	)

	core := compositor.NewCore(logger)
	wsServer := transport.NewServer(core, cfg.Channel.CompressionThreshold, logger)

	router := newRouter(core, wsServer, cfg, logger)
	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: router,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Push a state update every interval while anyone is listening.
	go func() {
		ticker := time.NewTicker(cfg.Server.PublishInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if core.ListenerCount() > 0 {
					core.PublishUpdate()
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("compositord listening", zap.String("addr", cfg.Server.Listen))
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", zap.Error(err))
			return 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		return 1
	}
	return 0
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	return zcfg.Build()
}
