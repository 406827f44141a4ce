package admin

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

	"github.com/cloo-solutions/servicechunks/internal/api/handlers"
	"github.com/cloo-solutions/servicechunks/internal/api/middleware"
	"github.com/cloo-solutions/servicechunks/internal/config"
	"github.com/cloo-solutions/servicechunks/internal/jobs"
	"github.com/cloo-solutions/servicechunks/internal/logger"
	"github.com/cloo-solutions/servicechunks/internal/metrics"
	"github.com/cloo-solutions/servicechunks/internal/server"
	"github.com/cloo-solutions/servicechunks/internal/telemetry"
)

const embeddingPollInterval = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and QA scheduler",
		Long:  "Start the servicechunks API server, the daily QA scheduler and the embedding worker",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides CHUNKS_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")
	cmd.Flags().String("migrations", defaultMigrationsSource, "Migration source URL")

	return cmd
}

// setup loads config and installs the process logger and Sentry
func setup(logOutput string) (*config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	format := cfg.LogFormat
	if cfg.Debug {
		format = "console"
	}
	if err := logger.Init(cfg.LogLevel, format, logOutput); err != nil {
		return nil, nil, err
	}

	// 10% sampling in production, everything elsewhere
	sampleRate := 1.0
	if cfg.Environment == "production" {
		sampleRate = 0.1
	}
	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            cfg.Debug,
	})
	if err != nil {
		logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
		shutdownTelemetry = func() {}
	}

	return cfg, func() {
		shutdownTelemetry()
		logger.Sync()
	}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, cleanup, err := setup("stdout")
	if err != nil {
		return err
	}
	defer cleanup()
	log := logger.L()

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if noMigrate, _ := cmd.Flags().GetBool("no-migrate"); !noMigrate {
		source, _ := cmd.Flags().GetString("migrations")
		if err := runMigrations(cfg.DatabaseURL, source, log); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	var embeddingWorker *jobs.Worker
	if a.embedder != nil {
		processor := jobs.NewEmbeddingWorker(a.chunks, a.embedder, log.Named("embeddings"))
		embeddingWorker = jobs.NewWorker("embeddings", processor, embeddingPollInterval, log.Named("embeddings"))
		go embeddingWorker.Start(ctx)
	}

	var cycles handlers.CycleRunner
	if cfg.QASchedulerEnabled {
		go a.scheduler.Start(ctx)
		cycles = a.scheduler
	} else {
		log.Info("qa scheduler disabled")
	}

	registry, err := metrics.NewRegistry()
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	keys := middleware.NewStaticKeys(cfg.APIKeyList())
	if keys.Empty() {
		log.Warn("API_KEYS not set: every authenticated route will answer 401")
	}

	router := server.NewRouter(server.RouterConfig{
		AuthValidator:  keys,
		Logger:         log.Named("http"),
		Database:       a.pool,
		MetricsHandler: metrics.Handler(registry),
		QAHandler:      handlers.NewQAHandler(a.qaSvc, a.reportSvc, cycles),
		ChunkHandler:   handlers.NewChunkHandler(a.chunkSvc, a.orchestrator),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")

	if cfg.QASchedulerEnabled {
		a.scheduler.Stop()
	}
	if embeddingWorker != nil {
		embeddingWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server exited")
	return nil
}
