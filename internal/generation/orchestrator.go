// Package generation produces chunk content: it fans out to the search
// sources, scores their agreement, drafts content with the oracle and stores
// the result through the guarded save path.
package generation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cloo-solutions/servicechunks/internal/cache"
	"github.com/cloo-solutions/servicechunks/internal/consensus"
	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/metrics"
	"github.com/cloo-solutions/servicechunks/internal/search"
	"github.com/cloo-solutions/servicechunks/internal/service"
	"github.com/cloo-solutions/servicechunks/internal/telemetry"
)

const (
	FastTimeout        = 15 * time.Second
	DeepTimeout        = 60 * time.Second
	DefaultConcurrency = 8
	SearchCacheTTL     = 24 * time.Hour
	PromptCacheTTL     = 5 * time.Minute
)

// ChunkSaver is the guarded write path
type ChunkSaver interface {
	Save(ctx context.Context, in service.SaveInput) (*domain.Chunk, error)
}

// ChunkFinder looks up content that can be reused instead of generated
type ChunkFinder interface {
	FindReusable(ctx context.Context, vehicleKey, chunkType, keyword string) (*domain.Chunk, error)
}

// Request asks for one chunk
type Request struct {
	VehicleKey           string `json:"vehicle_key" validate:"required,min=3"`
	ContentID            string `json:"content_id" validate:"required"`
	ChunkType            string `json:"chunk_type" validate:"required"`
	Title                string `json:"title" validate:"required"`
	Component            string `json:"component,omitempty"`
	ForceRefresh         bool   `json:"force_refresh,omitempty"`
	RegenerationAttempts int    `json:"regeneration_attempts,omitempty" validate:"gte=0"`

	regeneratedAt *time.Time
}

func (r Request) name() string {
	return domain.ChunkKey{VehicleKey: r.VehicleKey, ContentID: r.ContentID, ChunkType: r.ChunkType}.String()
}

// Outcome is the result of one generation
type Outcome struct {
	Chunk    *domain.Chunk    `json:"chunk,omitempty"`
	Reused   bool             `json:"reused"`
	Rejected bool             `json:"rejected"`
	Rule     string           `json:"rule,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Stub     bool             `json:"stub"`
	Score    *consensus.Score `json:"score,omitempty"`
	Report   *BatchReport     `json:"report,omitempty"`
	Cost     float64          `json:"cost"`
}

// Orchestrator generates chunks
type Orchestrator struct {
	searchers   []search.Searcher
	scorer      *consensus.Scorer
	saver       ChunkSaver
	finder      ChunkFinder
	oracle      Oracle
	searchCache *cache.Tiered[[]consensus.SourceResult]
	prompts     *cache.TTL[string]
	sem         *semaphore.Weighted
	concurrency int64
	fastTimeout time.Duration
	deepTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithOracle(oracle Oracle) Option {
	return func(o *Orchestrator) { o.oracle = oracle }
}

func WithFinder(finder ChunkFinder) Option {
	return func(o *Orchestrator) { o.finder = finder }
}

// WithSearchCache replaces the default local-only search result cache
func WithSearchCache(c *cache.Tiered[[]consensus.SourceResult]) Option {
	return func(o *Orchestrator) { o.searchCache = c }
}

// WithConcurrency bounds concurrent collaborator calls
func WithConcurrency(n int64) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithTimeouts overrides the per-source call timeouts
func WithTimeouts(fast, deep time.Duration) Option {
	return func(o *Orchestrator) {
		o.fastTimeout = fast
		o.deepTimeout = deep
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func NewOrchestrator(saver ChunkSaver, searchers []search.Searcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		searchers:   searchers,
		scorer:      consensus.NewScorer(),
		saver:       saver,
		prompts:     cache.NewTTL[string]("prompt", PromptCacheTTL),
		concurrency: DefaultConcurrency,
		fastTimeout: FastTimeout,
		deepTimeout: DeepTimeout,
		logger:      zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.searchCache == nil {
		o.searchCache = cache.NewTiered(cache.NewTTL[[]consensus.SourceResult]("search", SearchCacheTTL), nil, o.logger)
	}
	o.sem = semaphore.NewWeighted(o.concurrency)
	return o
}

// Generate produces and stores one chunk. A contamination rejection is
// reported in the Outcome; returned errors are validation or store failures.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "Orchestrator.Generate", telemetry.SpanAttributes{
		VehicleKey: req.VehicleKey,
		ContentID:  req.ContentID,
		ChunkType:  req.ChunkType,
		Operation:  "generate",
	})
	defer span.End()

	if req.VehicleKey == "" || req.ContentID == "" || req.ChunkType == "" {
		return nil, domain.ErrMissingRequiredField
	}
	if err := domain.ValidateVehicleKey(req.VehicleKey); err != nil {
		return nil, err
	}
	if req.Title == "" {
		req.Title = strings.ReplaceAll(req.ContentID, "_", " ")
	}

	if reused := o.reuse(ctx, req); reused != nil {
		return &Outcome{Chunk: reused, Reused: true}, nil
	}

	component := req.Component
	if component == "" {
		component = req.Title
	}
	q := search.NewQuery(req.VehicleKey, req.ChunkType, component)

	results, report := o.search(ctx, q, req.ForceRefresh)
	results = search.Dedupe(results)
	score := o.scorer.Score(results, req.ChunkType)
	metrics.ConsensusConfidence.Observe(score.Confidence)

	d := o.writeDraft(ctx, q, req.Title, score, results)

	outcome := &Outcome{
		Score:  &score,
		Report: report,
		Stub:   d.Stub,
		Cost:   report.Cost + d.Cost,
	}
	metrics.GenerationCost.Add(outcome.Cost)

	status := "generated"
	if d.Stub {
		status = "pending_review"
	}
	confidence := score.Confidence
	saved, err := o.saver.Save(ctx, service.SaveInput{
		VehicleKey:           req.VehicleKey,
		ContentID:            req.ContentID,
		ChunkType:            req.ChunkType,
		Title:                d.Title,
		ContentText:          d.ContentText,
		Data:                 d.Data,
		Sources:              sourceURLs(score),
		VerificationStatus:   status,
		SourceConfidence:     confidence,
		ConsensusScore:       &confidence,
		RegenerationAttempts: req.RegenerationAttempts,
		RegeneratedAt:        req.regeneratedAt,
	})
	if err != nil {
		var contamination *domain.ContaminationError
		if errors.As(err, &contamination) {
			outcome.Rejected = true
			outcome.Rule = contamination.Rule
			outcome.Reason = contamination.Reason
			return outcome, nil
		}
		span.SetError(err)
		return nil, err
	}

	outcome.Chunk = saved
	o.logger.Info("chunk generated",
		zap.String("chunk_key", req.name()),
		zap.Float64("confidence", score.Confidence),
		zap.Strings("sources_failed", report.Failed),
		zap.Bool("stub", d.Stub),
		zap.Float64("cost", outcome.Cost))
	return outcome, nil
}

// Regenerate rebuilds a failed chunk under its key, counting the attempt
func (o *Orchestrator) Regenerate(ctx context.Context, chunk *domain.Chunk) (*domain.Chunk, error) {
	now := o.now()
	out, err := o.Generate(ctx, Request{
		VehicleKey:           chunk.VehicleKey,
		ContentID:            chunk.ContentID,
		ChunkType:            chunk.ChunkType,
		Title:                chunk.Title,
		ForceRefresh:         true,
		RegenerationAttempts: chunk.RegenerationAttempts + 1,
		regeneratedAt:        &now,
	})
	if err != nil {
		return nil, err
	}
	if out.Rejected {
		return nil, &domain.ContaminationError{Key: chunk.Key(), Rule: out.Rule, Reason: out.Reason}
	}
	return out.Chunk, nil
}

// GenerateMany runs requests concurrently. Each request's own collaborator
// calls share the orchestrator's semaphore.
func (o *Orchestrator) GenerateMany(ctx context.Context, reqs []Request) ([]Result[*Outcome], *BatchReport) {
	results := make([]Result[*Outcome], len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(o.concurrency))
	for i, req := range reqs {
		g.Go(func() error {
			start := time.Now()
			out, err := o.Generate(gctx, req)
			res := Result[*Outcome]{Name: req.name(), Value: out, Err: err, Duration: time.Since(start)}
			if out != nil {
				res.Cost = out.Cost
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results, newReport(results)
}

// reuse returns an existing chunk for spec types when allowed
func (o *Orchestrator) reuse(ctx context.Context, req Request) *domain.Chunk {
	if o.finder == nil || req.ForceRefresh || !IsSpecType(req.ChunkType) {
		return nil
	}
	keyword := req.Component
	if keyword == "" {
		keyword = req.Title
	}
	existing, err := o.finder.FindReusable(ctx, req.VehicleKey, req.ChunkType, keyword)
	if err != nil {
		if !errors.Is(err, domain.ErrChunkNotFound) {
			o.logger.Warn("reuse lookup failed", zap.String("chunk_key", req.name()), zap.Error(err))
		}
		return nil
	}
	o.logger.Info("reusing existing chunk",
		zap.String("chunk_key", req.name()),
		zap.String("chunk_id", existing.ID))
	return existing
}

// search fans out to every searcher, serving and filling the search cache.
// Only results from at least one successful source are cached.
func (o *Orchestrator) search(ctx context.Context, q search.Query, force bool) ([]consensus.SourceResult, *BatchReport) {
	key := cache.Key(q.VehicleKey, q.ChunkType, q.Component)
	if !force {
		if cached, ok := o.searchCache.Get(ctx, key); ok {
			return cached, &BatchReport{Succeeded: []string{"cache"}}
		}
	}

	tasks := lo.Map(o.searchers, func(s search.Searcher, _ int) task[[]consensus.SourceResult] {
		timeout := o.fastTimeout
		if s.Depth() == search.Deep {
			timeout = o.deepTimeout
		}
		return task[[]consensus.SourceResult]{
			name:    s.Name(),
			timeout: timeout,
			run: func(ctx context.Context) ([]consensus.SourceResult, float64, error) {
				resp, err := s.Search(ctx, q)
				if err != nil {
					return nil, 0, err
				}
				return resp.Results, resp.Cost, nil
			},
		}
	})

	results, report := fanOut(ctx, o.sem, tasks)
	for name, msg := range report.Errors {
		o.logger.Warn("search source failed",
			zap.String("source", name),
			zap.String("vehicle_key", q.VehicleKey),
			zap.String("error", msg))
	}

	merged := lo.FlatMap(results, func(r Result[[]consensus.SourceResult], _ int) []consensus.SourceResult {
		return r.Value
	})
	if len(report.Succeeded) > 0 {
		o.searchCache.Set(ctx, key, merged)
	}
	return merged, report
}

func sourceURLs(score consensus.Score) []string {
	urls := lo.FilterMap(score.Citations, func(c domain.SourceCitation, _ int) (string, bool) {
		return c.URL, c.URL != ""
	})
	return lo.Uniq(urls)
}
