package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/metrics"
	"github.com/cloo-solutions/servicechunks/internal/service"
	"github.com/cloo-solutions/servicechunks/internal/telemetry"
)

// CycleCheckpoint names the persisted state of the QA cycle
const CycleCheckpoint = "qa_cycle"

// ErrCycleInProgress is returned when a cycle is requested while one runs
var ErrCycleInProgress = domain.ErrSchedulerOverlap

var errStopped = errors.New("scheduler stopped")

// CheckpointStore persists scheduler state across restarts
type CheckpointStore interface {
	Load(ctx context.Context, name string) (*domain.SchedulerCheckpoint, error)
	Save(ctx context.Context, cp *domain.SchedulerCheckpoint) error
}

// QARunner runs QA and repair batches
type QARunner interface {
	RunBatch(ctx context.Context, limit int) ([]service.QAResult, error)
	RepairBatch(ctx context.Context, ids []string, limit int) (*service.RepairSummary, error)
}

// Reporter writes the daily report
type Reporter interface {
	Generate(ctx context.Context) (*domain.DailyReport, error)
}

// SchedulerConfig holds the cycle cadence and batch sizes
type SchedulerConfig struct {
	Schedule        string
	FirstRunDelay   time.Duration
	TickInterval    time.Duration
	BatchPause      time.Duration
	QABatchSize     int
	RepairBatchSize int
}

// DefaultSchedulerConfig returns the daily cadence
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Schedule:        "@every 24h",
		FirstRunDelay:   60 * time.Second,
		TickInterval:    60 * time.Second,
		BatchPause:      time.Second,
		QABatchSize:     50,
		RepairBatchSize: 20,
	}
}

// Health is the scheduler's externally visible state
type Health struct {
	IsRunning           bool       `json:"is_running"`
	LastRun             *time.Time `json:"last_run"`
	LastRunStatus       string     `json:"last_run_status"`
	NextScheduledRun    *time.Time `json:"next_scheduled_run"`
	CurrentlyProcessing bool       `json:"currently_processing"`
}

// CycleResult summarizes one QA cycle
type CycleResult struct {
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Status     string              `json:"status"`
	Reviewed   int                 `json:"reviewed"`
	Repaired   int                 `json:"repaired"`
	RepairFail int                 `json:"repair_failed"`
	Report     *domain.DailyReport `json:"report,omitempty"`
}

// Scheduler runs the daily QA cycle: review, repair, report. At most one
// cycle runs at a time; the cadence survives restarts through a checkpoint.
type Scheduler struct {
	cfg         SchedulerConfig
	schedule    cron.Schedule
	checkpoints CheckpointStore
	qa          QARunner
	reports     Reporter
	logger      *zap.Logger
	now         func() time.Time

	started    atomic.Bool
	running    atomic.Bool
	processing atomic.Bool
	wg         sync.WaitGroup

	mu         sync.Mutex
	lastRun    *time.Time
	lastStatus string
	nextRun    *time.Time

	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewScheduler parses the cron schedule and builds a Scheduler
func NewScheduler(cfg SchedulerConfig, checkpoints CheckpointStore, qa QARunner, reports Reporter, logger *zap.Logger) (*Scheduler, error) {
	defaults := DefaultSchedulerConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = defaults.Schedule
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaults.TickInterval
	}
	if cfg.QABatchSize <= 0 {
		cfg.QABatchSize = defaults.QABatchSize
	}
	if cfg.RepairBatchSize <= 0 {
		cfg.RepairBatchSize = defaults.RepairBatchSize
	}

	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid qa schedule %q: %w", cfg.Schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		cfg:         cfg,
		schedule:    schedule,
		checkpoints: checkpoints,
		qa:          qa,
		reports:     reports,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		lastStatus:  domain.RunStatusNeverRun,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
	}, nil
}

// Start runs the scheduler loop until ctx is cancelled or Stop is called.
// The first cycle never runs before the first-run delay; after it, a cycle
// runs if none is recorded or the checkpointed run time has passed. Start
// runs at most once per Scheduler.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		s.logger.Warn("qa scheduler already started")
		return
	}
	s.running.Store(true)
	defer s.running.Store(false)
	defer close(s.doneChan)

	s.logger.Info("qa scheduler started", zap.String("schedule", s.cfg.Schedule))

	cp, err := s.checkpoints.Load(ctx, CycleCheckpoint)
	switch {
	case errors.Is(err, domain.ErrCheckpointNotFound):
	case err != nil:
		s.logger.Error("failed to load scheduler checkpoint", zap.Error(err))
		telemetry.CaptureError(ctx, err)
	default:
		s.restore(cp)
	}

	if !s.sleep(ctx, s.cfg.FirstRunDelay) {
		return
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		if s.due() {
			s.runScheduled(ctx)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("qa scheduler stopped: context cancelled")
			return
		case <-s.stopChan:
			s.logger.Info("qa scheduler stopped: stop signal received")
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the loop started by Start and waits for it and for any
// triggered cycle to exit. It does not interrupt a cycle already in progress
// beyond the loop's context.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	if s.started.Load() {
		<-s.doneChan
	}
	s.wg.Wait()
}

// NextRun reports the next scheduled cycle, when known
func (s *Scheduler) NextRun() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextRun == nil {
		return time.Time{}, false
	}
	return *s.nextRun, true
}

// Health reports the scheduler state
func (s *Scheduler) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Health{
		IsRunning:           s.running.Load(),
		LastRun:             s.lastRun,
		LastRunStatus:       s.lastStatus,
		NextScheduledRun:    s.nextRun,
		CurrentlyProcessing: s.processing.Load(),
	}
}

// RunCycle executes one full QA cycle and persists the checkpoint. It returns
// ErrCycleInProgress when another cycle holds the flag.
func (s *Scheduler) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !s.processing.CompareAndSwap(false, true) {
		s.logger.Warn("qa cycle skipped: already processing")
		return nil, ErrCycleInProgress
	}
	defer s.processing.Store(false)
	return s.cycle(ctx), nil
}

// TriggerCycle claims the cycle flag and runs the cycle in the background,
// detached from ctx's cancellation. It returns ErrCycleInProgress when a
// cycle is already running.
func (s *Scheduler) TriggerCycle(ctx context.Context) error {
	if !s.processing.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.processing.Store(false)
		s.cycle(context.WithoutCancel(ctx))
	}()
	return nil
}

func (s *Scheduler) cycle(ctx context.Context) *CycleResult {
	metrics.CycleInProgress.Set(1)
	defer metrics.CycleInProgress.Set(0)

	ctx, span := telemetry.StartSpan(ctx, "Scheduler.RunCycle", telemetry.SpanAttributes{Operation: "qa_cycle"})
	defer span.End()

	result := &CycleResult{StartedAt: s.now()}
	s.logger.Info("starting qa cycle")

	err := s.runPhases(ctx, result)
	result.FinishedAt = s.now()
	result.Status = domain.RunStatusSuccess
	if err != nil {
		result.Status = domain.FailedRunStatus(err.Error())
		span.SetError(err)
		telemetry.CaptureError(ctx, err)
		s.logger.Error("qa cycle failed", zap.Error(err))
	} else {
		s.logger.Info("qa cycle completed",
			zap.Int("reviewed", result.Reviewed),
			zap.Int("repaired", result.Repaired))
	}

	label := domain.RunStatusSuccess
	if err != nil {
		label = domain.RunStatusFailed
	}
	metrics.CycleDuration.WithLabelValues(label).Observe(result.FinishedAt.Sub(result.StartedAt).Seconds())

	next := s.schedule.Next(result.StartedAt)
	s.mu.Lock()
	s.lastRun = &result.FinishedAt
	s.lastStatus = result.Status
	s.nextRun = &next
	s.mu.Unlock()

	s.persist(ctx, result, next)
	return result
}

func (s *Scheduler) runPhases(ctx context.Context, result *CycleResult) error {
	reviewed, err := s.qaPhase(ctx)
	result.Reviewed = reviewed
	if err != nil {
		return fmt.Errorf("qa phase: %w", err)
	}

	repaired, failed, err := s.repairPhase(ctx)
	result.Repaired = repaired
	result.RepairFail = failed
	if err != nil {
		return fmt.Errorf("repair phase: %w", err)
	}

	report, err := s.reports.Generate(ctx)
	if err != nil {
		return fmt.Errorf("report phase: %w", err)
	}
	result.Report = report
	return nil
}

// qaPhase reviews batches until nothing is due. A batch where no outcome
// could be written ends the phase.
func (s *Scheduler) qaPhase(ctx context.Context) (int, error) {
	s.logger.Info("phase 1: qa detection")
	total := 0
	for {
		results, err := s.qa.RunBatch(ctx, s.cfg.QABatchSize)
		if err != nil {
			return total, err
		}
		if len(results) == 0 {
			return total, nil
		}

		updated := 0
		for _, r := range results {
			if r.Updated {
				updated++
			}
		}
		total += updated
		if updated == 0 {
			s.logger.Warn("qa batch wrote no outcomes, ending phase", zap.Int("batch", len(results)))
			return total, nil
		}
		if !s.sleep(ctx, s.cfg.BatchPause) {
			return total, s.interrupted(ctx)
		}
	}
}

// repairPhase regenerates failed chunks until a batch repairs nothing
func (s *Scheduler) repairPhase(ctx context.Context) (int, int, error) {
	s.logger.Info("phase 2: qa repair")
	repaired, failed := 0, 0
	for {
		summary, err := s.qa.RepairBatch(ctx, nil, s.cfg.RepairBatchSize)
		if err != nil {
			return repaired, failed, err
		}
		repaired += summary.Repaired
		failed += summary.Failed
		if summary.TotalProcessed == 0 || summary.Repaired == 0 {
			return repaired, failed, nil
		}
		if !s.sleep(ctx, s.cfg.BatchPause) {
			return repaired, failed, s.interrupted(ctx)
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	if _, err := s.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
		s.logger.Error("scheduled qa cycle failed", zap.Error(err))
	}
}

// due reports whether the next run time has passed
func (s *Scheduler) due() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun == nil || !s.now().Before(*s.nextRun)
}

func (s *Scheduler) restore(cp *domain.SchedulerCheckpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = cp.LastRunFinishedAt
	if cp.LastRunStatus != "" {
		s.lastStatus = cp.LastRunStatus
	}
	s.nextRun = cp.NextRunAt
	s.logger.Info("restored scheduler checkpoint",
		zap.String("last_run_status", s.lastStatus),
		zap.Timep("next_run_at", s.nextRun))
}

func (s *Scheduler) persist(ctx context.Context, result *CycleResult, next time.Time) {
	started, finished := result.StartedAt, result.FinishedAt
	cp := &domain.SchedulerCheckpoint{
		Name:              CycleCheckpoint,
		LastRunStartedAt:  &started,
		LastRunFinishedAt: &finished,
		LastRunStatus:     result.Status,
		NextRunAt:         &next,
	}
	// a cancelled cycle context must not lose the checkpoint
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.checkpoints.Save(saveCtx, cp); err != nil {
		s.logger.Error("failed to persist scheduler checkpoint", zap.Error(err))
		telemetry.CaptureError(ctx, err)
	}
}

func (s *Scheduler) interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errStopped
}

// sleep waits d or until ctx ends or Stop is called; false means stop
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.stopChan:
		return false
	case <-timer.C:
		return true
	}
}
