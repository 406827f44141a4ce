package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/telemetry"
)

// ReportRepositoryInterface defines the persistence operations on daily reports
type ReportRepositoryInterface interface {
	Insert(ctx context.Context, report *domain.DailyReport) error
	SetArchiveKey(ctx context.Context, report *domain.DailyReport) error
	Latest(ctx context.Context) (*domain.DailyReport, error)
	List(ctx context.Context, limit int) ([]*domain.DailyReport, error)
}

// ArchiveInterface stores report documents outside the database
type ArchiveInterface interface {
	PutJSON(ctx context.Context, key string, v any) error
}

// ScheduleInfo reports when the next QA cycle runs
type ScheduleInfo interface {
	NextRun() (time.Time, bool)
}

// LiveMetrics is the real-time view of QA progress
type LiveMetrics struct {
	Status               string `json:"status"`
	CurrentCycleProgress string `json:"current_cycle_progress"`
	PendingItems         int64  `json:"pending_items"`
	NextScheduledRun     string `json:"next_scheduled_run"`
	QuarantinedTotal     int64  `json:"quarantined_total"`
	ManualReviewRequired int64  `json:"manual_review_required"`
}

// ReportService builds QA statistics and the daily report
type ReportService struct {
	chunks     ChunkRepositoryInterface
	reports    ReportRepositoryInterface
	archive    ArchiveInterface
	archiveKey func(time.Time) string
	schedule   ScheduleInfo
	logger     *zap.Logger
	now        func() time.Time
}

// ReportOption configures a ReportService
type ReportOption func(*ReportService)

// WithArchive stores each generated report under keyFn(report date)
func WithArchive(archive ArchiveInterface, keyFn func(time.Time) string) ReportOption {
	return func(s *ReportService) {
		s.archive = archive
		s.archiveKey = keyFn
	}
}

// WithSchedule exposes the scheduler's next run in live metrics
func WithSchedule(schedule ScheduleInfo) ReportOption {
	return func(s *ReportService) {
		s.schedule = schedule
	}
}

func NewReportService(chunks ChunkRepositoryInterface, reports ReportRepositoryInterface, logger *zap.Logger, opts ...ReportOption) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ReportService{
		chunks:  chunks,
		reports: reports,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSchedule attaches the scheduler after construction; the scheduler
// itself depends on this service.
func (s *ReportService) SetSchedule(schedule ScheduleInfo) {
	s.schedule = schedule
}

// Stats counts chunks by QA and lifecycle status
func (s *ReportService) Stats(ctx context.Context) (domain.QAStats, error) {
	return s.chunks.Stats(ctx, domain.UTCDate(s.now()))
}

// Live reports the progress of the current cycle
func (s *ReportService) Live(ctx context.Context) (*LiveMetrics, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}

	progress := 0.0
	if stats.Total > 0 {
		progress = float64(stats.Total-stats.Pending) / float64(stats.Total) * 100
	}

	next := "now"
	if s.schedule != nil {
		if at, ok := s.schedule.NextRun(); ok {
			next = at.UTC().Format(time.RFC3339)
		}
	}

	return &LiveMetrics{
		Status:               "active",
		CurrentCycleProgress: fmt.Sprintf("%.1f%%", progress),
		PendingItems:         stats.Pending,
		NextScheduledRun:     next,
		QuarantinedTotal:     stats.QuarantinedTotal,
		ManualReviewRequired: stats.ManualRequiredTotal,
	}, nil
}

// Generate writes today's report. A report already stored for the date is
// returned unchanged. Archive failures are logged and do not fail the report.
func (s *ReportService) Generate(ctx context.Context) (*domain.DailyReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "ReportService.Generate", telemetry.SpanAttributes{Operation: "report"})
	defer span.End()

	at := s.now()
	stats, err := s.chunks.Stats(ctx, domain.UTCDate(at))
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	report := domain.NewDailyReport(at, stats)
	if err := s.reports.Insert(ctx, report); err != nil {
		if errors.Is(err, domain.ErrReportAlreadyExists) {
			s.logger.Info("daily report already exists", zap.Time("report_date", report.ReportDate))
			return s.reports.Latest(ctx)
		}
		span.SetError(err)
		return nil, err
	}

	if s.archive != nil {
		key := s.archiveKey(report.ReportDate)
		if err := s.archive.PutJSON(ctx, key, report); err != nil {
			s.logger.Warn("failed to archive report", zap.String("key", key), zap.Error(err))
			telemetry.CaptureError(ctx, err)
		} else {
			report.ArchiveKey = key
			if err := s.reports.SetArchiveKey(ctx, report); err != nil {
				s.logger.Warn("failed to record archive key", zap.String("key", key), zap.Error(err))
			}
		}
	}

	s.logger.Info("daily report generated",
		zap.Time("report_date", report.ReportDate),
		zap.String("summary", report.Summary))
	return report, nil
}

func (s *ReportService) Latest(ctx context.Context) (*domain.DailyReport, error) {
	return s.reports.Latest(ctx)
}

func (s *ReportService) List(ctx context.Context, limit int) ([]*domain.DailyReport, error) {
	if limit <= 0 || limit > 365 {
		limit = 30
	}
	return s.reports.List(ctx, limit)
}
