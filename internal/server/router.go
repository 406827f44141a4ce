package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/api"
	"github.com/cloo-solutions/servicechunks/internal/api/handlers"
	"github.com/cloo-solutions/servicechunks/internal/api/middleware"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	AuthValidator  middleware.AuthValidator
	Logger         *zap.Logger
	Database       Pinger
	MetricsHandler http.Handler
	QAHandler      *handlers.QAHandler
	ChunkHandler   *handlers.ChunkHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 * 1024 * 1024

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", healthHandler(cfg.Database))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		r.Route("/qa", func(r chi.Router) {
			r.Post("/run", cfg.QAHandler.Run)
			r.Post("/repair", cfg.QAHandler.Repair)
			r.Post("/cycle", cfg.QAHandler.Cycle)
			r.Get("/health", cfg.QAHandler.Health)
			r.Get("/report", cfg.QAHandler.Report)
			r.Get("/reports", cfg.QAHandler.Reports)
			r.Get("/metrics/live", cfg.QAHandler.LiveMetrics)
		})

		r.Route("/chunks", func(r chi.Router) {
			r.Post("/generate", cfg.ChunkHandler.Generate)
			r.Get("/{id}", cfg.ChunkHandler.Get)
		})

		r.Route("/vehicles/{vehicleKey}", func(r chi.Router) {
			r.Get("/chunks", cfg.ChunkHandler.ListByVehicle)
			r.Get("/chunks/search", cfg.ChunkHandler.Search)
			r.Post("/baseline", cfg.ChunkHandler.Baseline)
		})
	})

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				api.JSON(w, http.StatusServiceUnavailable, api.SuccessResponse{
					Data: map[string]string{"status": "degraded", "database": "unreachable"},
				})
				return
			}
		}
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
