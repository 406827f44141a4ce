package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/metrics"
	"github.com/cloo-solutions/servicechunks/internal/telemetry"
	"github.com/cloo-solutions/servicechunks/internal/verification"
)

// Reviewer assigns a QA outcome to a chunk
type Reviewer interface {
	Review(ctx context.Context, chunk *domain.Chunk) domain.QAOutcome
}

// Regenerator rebuilds a failed chunk's content under the same key
type Regenerator interface {
	Regenerate(ctx context.Context, chunk *domain.Chunk) (*domain.Chunk, error)
}

// Repair statuses
const (
	RepairRepaired = "repaired"
	RepairSkipped  = "skipped"
	RepairFailed   = "failed"
)

// ApplyResult describes the transition written for one QA outcome
type ApplyResult struct {
	ChunkID    string
	From       domain.VerifiedStatus
	To         domain.VerifiedStatus
	Changed    bool
	QAStatus   domain.QAStatus
	Notes      string
	FellBack   bool
	Transition domain.Transition
}

// QAResult is one reviewed chunk of a QA batch
type QAResult struct {
	ChunkID    string          `json:"chunk_id"`
	VehicleKey string          `json:"vehicle_key"`
	ContentID  string          `json:"content_id"`
	OldStatus  domain.QAStatus `json:"old_status"`
	NewStatus  domain.QAStatus `json:"new_status"`
	Notes      string          `json:"notes"`
	Updated    bool            `json:"updated"`
}

// RepairDetail is the repair result of one chunk
type RepairDetail struct {
	ChunkID string `json:"chunk_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

// RepairSummary aggregates a repair batch
type RepairSummary struct {
	TotalProcessed int            `json:"total_processed"`
	Repaired       int            `json:"repaired"`
	Skipped        int            `json:"skipped"`
	Failed         int            `json:"failed"`
	Details        []RepairDetail `json:"details"`
}

// QAService applies QA outcomes to the verification lifecycle
type QAService struct {
	repo        ChunkRepositoryInterface
	tx          TxRunner
	reviewer    Reviewer
	regenerator Regenerator
	machine     *verification.Machine
	maxAttempts int
	logger      *zap.Logger
	now         func() time.Time
}

// NewQAService creates a QAService. regenerator may be nil, in which case
// repair reports every chunk as failed.
func NewQAService(repo ChunkRepositoryInterface, tx TxRunner, reviewer Reviewer, regenerator Regenerator, logger *zap.Logger) *QAService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QAService{
		repo:        repo,
		tx:          tx,
		reviewer:    reviewer,
		regenerator: regenerator,
		machine:     verification.NewMachine(),
		maxAttempts: domain.MaxRegenerationAttempts,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock that dates reviews and picks the QA day
func (s *QAService) WithClock(now func() time.Time) *QAService {
	s.now = now
	return s
}

// ApplyOutcome locks the chunk, computes the transition from the locked row
// and writes it in the same transaction. When the store rejects an
// escalation the fallback transition is written in a fresh transaction.
func (s *QAService) ApplyOutcome(ctx context.Context, chunkID string, outcome domain.QAOutcome, reviewedAt time.Time) (*ApplyResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "QAService.ApplyOutcome", telemetry.SpanAttributes{
		ChunkID:   chunkID,
		Operation: "apply_outcome",
	})
	defer span.End()

	result, err := s.apply(ctx, chunkID, outcome, reviewedAt, false)
	if err != nil && errors.Is(err, domain.ErrPersistenceConflict) {
		s.logger.Warn("store rejected transition, writing fallback",
			zap.String("chunk_id", chunkID),
			zap.Error(err))
		result, err = s.apply(ctx, chunkID, outcome, reviewedAt, true)
	}
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	metrics.QAOutcomes.WithLabelValues(string(result.QAStatus)).Inc()
	if result.Changed {
		metrics.LifecycleTransitions.WithLabelValues(string(result.From), string(result.To)).Inc()
		s.logger.Info("lifecycle transition",
			zap.String("chunk_id", chunkID),
			zap.String("from", string(result.From)),
			zap.String("to", string(result.To)),
			zap.Bool("fallback", result.FellBack))
	}
	return result, nil
}

func (s *QAService) apply(ctx context.Context, chunkID string, outcome domain.QAOutcome, reviewedAt time.Time, fallback bool) (*ApplyResult, error) {
	var result *ApplyResult
	err := s.tx.WithTx(ctx, func(repos TxRepositories) error {
		chunks := repos.Chunks()
		current, err := chunks.GetByIDForUpdate(ctx, chunkID)
		if err != nil {
			return err
		}

		t := s.machine.Apply(*current, outcome, reviewedAt)
		if fallback {
			if t.Fallback == nil {
				return fmt.Errorf("no fallback for %s -> %s: %w", t.From, t.To, domain.ErrPersistenceConflict)
			}
			t = *t.Fallback
		}

		if err := chunks.ApplyTransition(ctx, chunkID, t); err != nil {
			return err
		}
		result = &ApplyResult{
			ChunkID:    chunkID,
			From:       t.From,
			To:         t.To,
			Changed:    t.Changed,
			QAStatus:   t.QAStatus,
			Notes:      t.QANotes,
			FellBack:   fallback,
			Transition: t,
		}
		return nil
	})
	return result, err
}

// RunBatch reviews up to limit chunks awaiting QA and applies each outcome.
// Per-chunk write failures are reported in the result, not returned.
func (s *QAService) RunBatch(ctx context.Context, limit int) ([]QAResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "QAService.RunBatch", telemetry.SpanAttributes{Operation: "run_batch"})
	defer span.End()

	now := s.now()
	chunks, err := s.repo.ListPendingQA(ctx, limit, domain.UTCDate(now))
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	results := make([]QAResult, 0, len(chunks))
	for _, c := range chunks {
		outcome := s.reviewer.Review(ctx, c)
		res := QAResult{
			ChunkID:    c.ID,
			VehicleKey: c.VehicleKey,
			ContentID:  c.ContentID,
			OldStatus:  c.QAStatus,
			NewStatus:  outcome.Status,
			Notes:      outcome.Notes,
		}
		if _, err := s.ApplyOutcome(ctx, c.ID, outcome, s.now()); err != nil {
			s.logger.Error("failed to apply qa outcome", zap.String("chunk_id", c.ID), zap.Error(err))
		} else {
			res.Updated = true
		}
		results = append(results, res)
	}

	s.logger.Info("qa batch processed", zap.Int("count", len(results)))
	return results, nil
}

// RepairBatch regenerates the given chunks, or up to limit repairable failed
// chunks when ids is empty
func (s *QAService) RepairBatch(ctx context.Context, ids []string, limit int) (*RepairSummary, error) {
	ctx, span := telemetry.StartSpan(ctx, "QAService.RepairBatch", telemetry.SpanAttributes{Operation: "repair_batch"})
	defer span.End()

	var chunks []*domain.Chunk
	var err error
	if len(ids) > 0 {
		chunks, err = s.repo.ListByIDs(ctx, ids)
	} else {
		chunks, err = s.repo.ListRepairable(ctx, limit, s.maxAttempts)
	}
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	summary := &RepairSummary{Details: make([]RepairDetail, 0, len(chunks))}
	for _, c := range chunks {
		detail := s.repair(ctx, c)
		switch detail.Status {
		case RepairRepaired:
			summary.Repaired++
		case RepairSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
		summary.Details = append(summary.Details, detail)
	}
	summary.TotalProcessed = len(chunks)
	return summary, nil
}

func (s *QAService) repair(ctx context.Context, c *domain.Chunk) RepairDetail {
	detail := RepairDetail{ChunkID: c.ID}
	switch {
	case c.VerifiedStatus.IsSink():
		detail.Status = RepairSkipped
		detail.Reason = fmt.Sprintf("Chunk is %s", c.VerifiedStatus)
		return detail
	case c.QAStatus != domain.QAStatusFail:
		detail.Status = RepairSkipped
		detail.Reason = fmt.Sprintf("QA status is %s", c.QAStatus)
		return detail
	case c.RegenerationAttempts >= s.maxAttempts:
		detail.Status = RepairSkipped
		detail.Reason = fmt.Sprintf("Max regeneration attempts (%d) reached", s.maxAttempts)
		return detail
	case s.regenerator == nil:
		detail.Status = RepairFailed
		detail.Reason = "No regenerator configured"
		return detail
	}

	regenerated, err := s.regenerator.Regenerate(ctx, c)
	if err != nil {
		s.logger.Warn("repair failed", zap.String("chunk_id", c.ID), zap.Error(err))
		detail.Status = RepairFailed
		detail.Reason = err.Error()
		return detail
	}
	detail.Status = RepairRepaired
	detail.Reason = fmt.Sprintf("Regenerated (attempt %d)", regenerated.RegenerationAttempts)
	return detail
}
