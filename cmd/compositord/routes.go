package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/glasskit/composerlink/internal/compositor"
	"github.com/glasskit/composerlink/internal/config"
	"github.com/glasskit/composerlink/internal/transport"
)

func newRouter(core *compositor.Core, wsServer *transport.Server, cfg *config.Config, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(zapLoggerMiddleware(logger))

	r.Get(cfg.Server.WSPath, wsServer.HandleWS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Simulates a service restart: drops every registration so clients must
	// reconnect. Debug aid only.
	r.Post("/debug/restart", func(w http.ResponseWriter, _ *http.Request) {
		core.DropListeners()
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
