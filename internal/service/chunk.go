package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/guard"
	"github.com/cloo-solutions/servicechunks/internal/metrics"
	"github.com/cloo-solutions/servicechunks/internal/pagination"
	"github.com/cloo-solutions/servicechunks/internal/telemetry"
)

// ChunkRepositoryInterface defines the persistence operations on chunks
type ChunkRepositoryInterface interface {
	Upsert(ctx context.Context, c *domain.Chunk) (*domain.Chunk, error)
	UpsertMany(ctx context.Context, chunks []*domain.Chunk) ([]*domain.Chunk, error)
	GetByID(ctx context.Context, id string) (*domain.Chunk, error)
	GetByKey(ctx context.Context, key domain.ChunkKey) (*domain.Chunk, error)
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Chunk, error)
	ListByVehicle(ctx context.Context, vehicleKey string, chunkTypes []string, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.Chunk], error)
	ListByIDs(ctx context.Context, ids []string) ([]*domain.Chunk, error)
	ListPendingQA(ctx context.Context, limit int, reviewedBefore time.Time) ([]*domain.Chunk, error)
	ListRepairable(ctx context.Context, limit, maxAttempts int) ([]*domain.Chunk, error)
	ApplyTransition(ctx context.Context, id string, t domain.Transition) error
	CountByQAStatus(ctx context.Context) (map[domain.QAStatus]int64, error)
	CountByVerifiedStatus(ctx context.Context) (map[domain.VerifiedStatus]int64, error)
	Stats(ctx context.Context, dayStart time.Time) (domain.QAStats, error)
	StatusesByContentID(ctx context.Context, vehicleKey string, contentIDs []string) (map[string]domain.VerifiedStatus, error)
	FindReusable(ctx context.Context, vehicleKey, chunkType, keyword string) (*domain.Chunk, error)
	FindSimilar(ctx context.Context, vehicleKey string, chunkTypes []string, vector []float32, limit int) ([]*domain.Chunk, error)
	SearchText(ctx context.Context, vehicleKey string, chunkTypes []string, query string, limit int) ([]*domain.Chunk, error)
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*domain.Chunk, error)
	SetEmbedding(ctx context.Context, id string, vector []float32) error
}

// DefaultTemplateVersion is stored in data when the caller does not set one
const DefaultTemplateVersion = "1.0"

// BaselineMissing marks a required content id with no stored chunk
const BaselineMissing = "missing"

// SaveInput is the content produced by a generator for one chunk key
type SaveInput struct {
	VehicleKey           string
	ContentID            string
	ChunkType            string
	Title                string
	ContentText          string
	Data                 map[string]any
	Sources              []string
	VerificationStatus   string
	SourceConfidence     float64
	ConsensusScore       *float64
	TemplateVersion      string
	RegenerationAttempts int
	RegeneratedAt        *time.Time
}

// ChunkService is the only write path for generated content. Every write
// passes the contamination guard first.
type ChunkService struct {
	repo     ChunkRepositoryInterface
	guard    *guard.Guard
	embedder QueryEmbedder
	logger   *zap.Logger
}

// NewChunkService creates a ChunkService. A nil guard uses guard.Default().
func NewChunkService(repo ChunkRepositoryInterface, g *guard.Guard, logger *zap.Logger) *ChunkService {
	if g == nil {
		g = guard.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChunkService{repo: repo, guard: g, logger: logger}
}

// Save validates and upserts a chunk. A guard rejection persists a banned
// marker under the same key and returns a *domain.ContaminationError.
func (s *ChunkService) Save(ctx context.Context, in SaveInput) (*domain.Chunk, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChunkService.Save", telemetry.SpanAttributes{
		VehicleKey: in.VehicleKey,
		ContentID:  in.ContentID,
		ChunkType:  in.ChunkType,
		Operation:  "save",
	})
	defer span.End()

	if in.VehicleKey == "" || in.ContentID == "" || in.ChunkType == "" {
		return nil, domain.ErrMissingRequiredField
	}
	if err := domain.ValidateVehicleKey(in.VehicleKey); err != nil {
		return nil, err
	}

	data := make(map[string]any, len(in.Data)+1)
	for k, v := range in.Data {
		data[k] = v
	}
	version := in.TemplateVersion
	if version == "" {
		version = DefaultTemplateVersion
	}
	data["template_version"] = version

	chunk := &domain.Chunk{
		VehicleKey:           in.VehicleKey,
		ContentID:            in.ContentID,
		ChunkType:            in.ChunkType,
		TemplateType:         domain.TemplateTypeFor(in.VehicleKey),
		Title:                in.Title,
		ContentText:          in.ContentText,
		Data:                 data,
		Sources:              in.Sources,
		RegenerationAttempts: in.RegenerationAttempts,
		RegeneratedAt:        in.RegeneratedAt,
	}

	verdict := s.guard.Validate(guard.Input{
		VehicleKey:  in.VehicleKey,
		ContentID:   in.ContentID,
		ChunkType:   in.ChunkType,
		Data:        data,
		ContentText: in.ContentText,
	})
	if !verdict.Passed {
		return nil, s.ban(ctx, chunk, verdict)
	}

	chunk.VerificationStatus = domain.NormalizeLegacyStatus(in.VerificationStatus)
	chunk.VerifiedStatus = domain.VerifiedStatusUnverified
	chunk.QAStatus = domain.QAStatusPending
	chunk.SourceConfidence = in.SourceConfidence
	chunk.ConsensusScore = in.ConsensusScore

	saved, err := s.repo.Upsert(ctx, chunk)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	s.logger.Debug("chunk saved",
		zap.String("chunk_id", saved.ID),
		zap.String("chunk_key", saved.Key().String()),
		zap.Int64("revision", saved.Revision),
		zap.String("visibility", string(saved.Visibility())))
	return saved, nil
}

// ban overwrites the key with a banned marker carrying the guard's reason
func (s *ChunkService) ban(ctx context.Context, chunk *domain.Chunk, verdict guard.Verdict) error {
	metrics.GuardRejections.WithLabelValues(verdict.Rule).Inc()
	s.logger.Warn("contamination blocked",
		zap.String("chunk_key", chunk.Key().String()),
		zap.String("rule", verdict.Rule),
		zap.String("reason", verdict.Reason))

	chunk.Data = map[string]any{
		"message": "Contaminated data blocked",
		"reason":  verdict.Reason,
	}
	chunk.VerificationStatus = domain.LegacyStatusRejected
	chunk.VerifiedStatus = domain.VerifiedStatusBanned
	chunk.QAStatus = domain.QAStatusFail
	chunk.QANotes = "AUTO-BLOCKED: " + verdict.Reason
	chunk.SourceConfidence = 0
	chunk.ConsensusScore = nil

	if _, err := s.repo.Upsert(ctx, chunk); err != nil {
		return err
	}
	return &domain.ContaminationError{Key: chunk.Key(), Rule: verdict.Rule, Reason: verdict.Reason}
}

func (s *ChunkService) Get(ctx context.Context, id string) (*domain.Chunk, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChunkService.Get", telemetry.SpanAttributes{
		ChunkID:   id,
		Operation: "get",
	})
	defer span.End()

	return s.repo.GetByID(ctx, id)
}

func (s *ChunkService) GetByKey(ctx context.Context, key domain.ChunkKey) (*domain.Chunk, error) {
	return s.repo.GetByKey(ctx, key)
}

// ListChunksInput selects a page of a vehicle's chunks
type ListChunksInput struct {
	VehicleKey string
	ChunkTypes []string
	Cursor     string
	Limit      int
}

func (s *ChunkService) ListByVehicle(ctx context.Context, in ListChunksInput) (*pagination.PageResult[*domain.Chunk], error) {
	ctx, span := telemetry.StartSpan(ctx, "ChunkService.ListByVehicle", telemetry.SpanAttributes{
		VehicleKey: in.VehicleKey,
		Operation:  "list",
	})
	defer span.End()

	if err := domain.ValidateVehicleKey(in.VehicleKey); err != nil {
		return nil, err
	}
	cursor, err := pagination.DecodeCursor(in.Cursor)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid cursor", err)
	}
	limit := in.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListByVehicle(ctx, in.VehicleKey, in.ChunkTypes, cursor, limit)
}

// CheckBaseline reports the lifecycle status of every required content id,
// BaselineMissing for ids with no chunk
func (s *ChunkService) CheckBaseline(ctx context.Context, vehicleKey string, requiredIDs []string) (map[string]string, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChunkService.CheckBaseline", telemetry.SpanAttributes{
		VehicleKey: vehicleKey,
		Operation:  "baseline",
	})
	defer span.End()

	found, err := s.repo.StatusesByContentID(ctx, vehicleKey, requiredIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(requiredIDs))
	for _, id := range requiredIDs {
		if status, ok := found[id]; ok {
			out[id] = string(status)
			continue
		}
		out[id] = BaselineMissing
	}
	return out, nil
}
