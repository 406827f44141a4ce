package admin

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/cache"
	"github.com/cloo-solutions/servicechunks/internal/config"
	"github.com/cloo-solutions/servicechunks/internal/consensus"
	"github.com/cloo-solutions/servicechunks/internal/database"
	"github.com/cloo-solutions/servicechunks/internal/generation"
	"github.com/cloo-solutions/servicechunks/internal/guard"
	"github.com/cloo-solutions/servicechunks/internal/jobs"
	"github.com/cloo-solutions/servicechunks/internal/openai"
	"github.com/cloo-solutions/servicechunks/internal/qa"
	"github.com/cloo-solutions/servicechunks/internal/repository"
	"github.com/cloo-solutions/servicechunks/internal/search"
	"github.com/cloo-solutions/servicechunks/internal/service"
	"github.com/cloo-solutions/servicechunks/internal/storage"
)

// app holds the wired components shared by serve, cycle and import
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	pool        *pgxpool.Pool
	chunks      *repository.ChunkRepository
	reports     *repository.ReportRepository
	checkpoints *repository.CheckpointRepository

	chunkSvc     *service.ChunkService
	qaSvc        *service.QAService
	reportSvc    *service.ReportService
	orchestrator *generation.Orchestrator
	scheduler    *jobs.Scheduler
	embedder     *openai.Embedder

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	logger.Info("connected to database")

	a.chunks = repository.NewChunkRepository(pool)
	a.reports = repository.NewReportRepository(pool)
	a.checkpoints = repository.NewCheckpointRepository(pool)

	g, err := buildGuard(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.chunkSvc = service.NewChunkService(a.chunks, g, logger.Named("chunks"))

	var oracle *openai.Oracle
	if cfg.HasOpenAI() {
		oracle = openai.NewOracle(openai.OracleConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.LLMTimeout,
		}, logger.Named("oracle"))
		a.embedder = openai.NewEmbedder(openai.EmbeddingConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		})
		a.chunkSvc.WithEmbedder(a.embedder)
		logger.Info("openai oracle configured", zap.String("model", oracle.Model()))
	} else {
		logger.Warn("OPENAI_API_KEY not set: generation stores stubs and QA runs rules only")
	}

	searchCache, err := a.buildSearchCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	genOpts := []generation.Option{
		generation.WithFinder(a.chunks),
		generation.WithSearchCache(searchCache),
		generation.WithConcurrency(cfg.GenerationConcurrency),
		generation.WithLogger(logger.Named("generation")),
	}
	agentOpts := []qa.Option{qa.WithTimeout(cfg.LLMTimeout), qa.WithLogger(logger.Named("qa"))}
	var agent *qa.Agent
	if oracle != nil {
		genOpts = append(genOpts, generation.WithOracle(oracle))
		agent = qa.NewAgent(oracle, agentOpts...)
	} else {
		agent = qa.NewAgent(nil, agentOpts...)
	}
	a.orchestrator = generation.NewOrchestrator(a.chunkSvc, buildSearchers(cfg, logger), genOpts...)

	a.qaSvc = service.NewQAService(a.chunks, repository.NewTxRunner(pool), agent, a.orchestrator, logger.Named("qa"))

	var reportOpts []service.ReportOption
	if cfg.HasS3() {
		archive, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		logger.Info("report archive ready", zap.String("bucket", cfg.S3Bucket))
		reportOpts = append(reportOpts, service.WithArchive(archive, storage.ReportKey))
	}
	a.reportSvc = service.NewReportService(a.chunks, a.reports, logger.Named("reports"), reportOpts...)

	a.scheduler, err = jobs.NewScheduler(jobs.SchedulerConfig{
		Schedule:        cfg.QASchedule,
		FirstRunDelay:   cfg.QAFirstRunDelay,
		QABatchSize:     cfg.QABatchSize,
		RepairBatchSize: cfg.RepairBatchSize,
		BatchPause:      jobs.DefaultSchedulerConfig().BatchPause,
	}, a.checkpoints, a.qaSvc, a.reportSvc, logger.Named("scheduler"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.reportSvc.SetSchedule(a.scheduler)

	return a, nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func buildGuard(cfg *config.Config) (*guard.Guard, error) {
	if cfg.GuardRulesFile == "" {
		return guard.Default(), nil
	}
	tables, err := guard.LoadOverrides(cfg.GuardRulesFile)
	if err != nil {
		return nil, err
	}
	return guard.FromTables(tables), nil
}

func buildSearchers(cfg *config.Config, logger *zap.Logger) []search.Searcher {
	var searchers []search.Searcher
	if cfg.HasBrave() {
		searchers = append(searchers, search.NewBrave(search.BraveConfig{
			APIKey:     cfg.BraveAPIKey,
			RatePerSec: cfg.SearchRatePerSec,
		}, logger.Named("brave")))
	}
	if cfg.NHTSAEnabled {
		searchers = append(searchers, search.NewNHTSA("", logger.Named("nhtsa")))
	}
	if len(searchers) == 0 {
		logger.Warn("no search sources configured")
	}
	return searchers
}

func (a *app) buildSearchCache(ctx context.Context) (*cache.Tiered[[]consensus.SourceResult], error) {
	local := cache.NewTTL[[]consensus.SourceResult]("search", generation.SearchCacheTTL)
	if !a.cfg.HasRedis() {
		return cache.NewTiered(local, nil, a.logger), nil
	}
	store, err := cache.NewRedisStore(ctx, a.cfg.RedisURL, "servicechunks:search", a.logger.Named("redis"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = store.Close() })
	return cache.NewTiered(local, store, a.logger), nil
}
