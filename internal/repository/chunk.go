package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/pagination"
)

const chunkColumns = `id, vehicle_key, content_id, chunk_type, template_type, title, content_text, data, sources,
	verification_status, verified_status, qa_status, qa_notes, source_confidence, consensus_score,
	promotion_count, qa_pass_count, regeneration_attempts,
	last_qa_reviewed_at, verified_at, failed_at, regenerated_at, revision, created_at, updated_at`

const upsertChunkSQL = `INSERT INTO chunks (id, vehicle_key, content_id, chunk_type, template_type, title, content_text, data, sources,
		verification_status, verified_status, qa_status, qa_notes, source_confidence, consensus_score,
		promotion_count, qa_pass_count, regeneration_attempts,
		last_qa_reviewed_at, verified_at, failed_at, regenerated_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	ON CONFLICT (vehicle_key, content_id, chunk_type) DO UPDATE SET
		template_type = EXCLUDED.template_type,
		title = EXCLUDED.title,
		content_text = EXCLUDED.content_text,
		data = EXCLUDED.data,
		sources = EXCLUDED.sources,
		verification_status = EXCLUDED.verification_status,
		verified_status = EXCLUDED.verified_status,
		qa_status = EXCLUDED.qa_status,
		qa_notes = EXCLUDED.qa_notes,
		source_confidence = EXCLUDED.source_confidence,
		consensus_score = COALESCE(EXCLUDED.consensus_score, chunks.consensus_score),
		promotion_count = EXCLUDED.promotion_count,
		qa_pass_count = EXCLUDED.qa_pass_count,
		regeneration_attempts = EXCLUDED.regeneration_attempts,
		verified_at = EXCLUDED.verified_at,
		failed_at = EXCLUDED.failed_at,
		last_qa_reviewed_at = COALESCE(EXCLUDED.last_qa_reviewed_at, chunks.last_qa_reviewed_at),
		regenerated_at = COALESCE(EXCLUDED.regenerated_at, chunks.regenerated_at),
		updated_at = EXCLUDED.updated_at,
		revision = chunks.revision + 1
	RETURNING ` + chunkColumns

// ChunkRepository persists chunks in PostgreSQL
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*domain.Chunk, error) {
	var c domain.Chunk
	var templateType, legacy, verified, qa string
	err := row.Scan(
		&c.ID, &c.VehicleKey, &c.ContentID, &c.ChunkType, &templateType, &c.Title, &c.ContentText, &c.Data, &c.Sources,
		&legacy, &verified, &qa, &c.QANotes, &c.SourceConfidence, &c.ConsensusScore,
		&c.PromotionCount, &c.QAPassCount, &c.RegenerationAttempts,
		&c.LastQAReviewedAt, &c.VerifiedAt, &c.FailedAt, &c.RegeneratedAt, &c.Revision, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.TemplateType = domain.TemplateType(templateType)
	c.VerificationStatus = domain.LegacyStatus(legacy)
	c.VerifiedStatus = domain.VerifiedStatus(verified)
	c.QAStatus = domain.QAStatus(qa)
	if c.Data == nil {
		c.Data = map[string]any{}
	}
	return &c, nil
}

func scanChunkRows(rows pgx.Rows) ([]*domain.Chunk, error) {
	var results []*domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

func upsertArgs(c *domain.Chunk) []any {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	data := c.Data
	if data == nil {
		data = map[string]any{}
	}
	sources := c.Sources
	if sources == nil {
		sources = []string{}
	}
	return []any{
		c.ID, c.VehicleKey, c.ContentID, c.ChunkType, string(c.TemplateType), c.Title, c.ContentText, data, sources,
		string(c.VerificationStatus), string(c.VerifiedStatus), string(c.QAStatus), c.QANotes, c.SourceConfidence, c.ConsensusScore,
		c.PromotionCount, c.QAPassCount, c.RegenerationAttempts,
		c.LastQAReviewedAt, c.VerifiedAt, c.FailedAt, c.RegeneratedAt, c.CreatedAt, c.UpdatedAt,
	}
}

// Upsert inserts or overwrites the chunk with the same key. The later write
// wins; every overwrite bumps revision. The overwrite restarts the lifecycle:
// counters and the verified/failed timestamps come from c.
func (r *ChunkRepository) Upsert(ctx context.Context, c *domain.Chunk) (*domain.Chunk, error) {
	saved, err := scanChunk(r.db.QueryRow(ctx, upsertChunkSQL, upsertArgs(c)...))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return saved, nil
}

// UpsertMany writes all chunks in one batch round-trip inside a transaction
func (r *ChunkRepository) UpsertMany(ctx context.Context, chunks []*domain.Chunk) ([]*domain.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(upsertChunkSQL, upsertArgs(c)...)
	}

	br := tx.SendBatch(ctx, batch)
	saved := make([]*domain.Chunk, 0, len(chunks))
	for range chunks {
		c, err := scanChunk(br.QueryRow())
		if err != nil {
			_ = br.Close()
			return nil, mapWriteError(err)
		}
		saved = append(saved, c)
	}
	if err := br.Close(); err != nil {
		return nil, mapWriteError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return saved, nil
}

func (r *ChunkRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Chunk, error) {
	c, err := scanChunk(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrChunkNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *ChunkRepository) GetByID(ctx context.Context, id string) (*domain.Chunk, error) {
	return r.getOne(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = $1`, id)
}

func (r *ChunkRepository) GetByKey(ctx context.Context, key domain.ChunkKey) (*domain.Chunk, error) {
	return r.getOne(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE vehicle_key = $1 AND content_id = $2 AND chunk_type = $3`,
		key.VehicleKey, key.ContentID, key.ChunkType,
	)
}

// GetByIDForUpdate locks the row until the surrounding transaction ends.
// Only meaningful on a repository created with NewChunkRepositoryWithTx.
func (r *ChunkRepository) GetByIDForUpdate(ctx context.Context, id string) (*domain.Chunk, error) {
	return r.getOne(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = $1 FOR UPDATE`, id)
}

// ListByVehicle pages through a vehicle's chunks, newest first. An empty
// chunkTypes matches every type.
func (r *ChunkRepository) ListByVehicle(ctx context.Context, vehicleKey string, chunkTypes []string, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.Chunk], error) {
	if limit <= 0 {
		limit = 20
	}
	if chunkTypes == nil {
		chunkTypes = []string{}
	}

	var rows pgx.Rows
	var err error
	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+chunkColumns+` FROM chunks
			 WHERE vehicle_key = $1 AND (cardinality($2::text[]) = 0 OR chunk_type = ANY($2))
			   AND (updated_at, id) < ($3, $4)
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $5`,
			vehicleKey, chunkTypes, cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+chunkColumns+` FROM chunks
			 WHERE vehicle_key = $1 AND (cardinality($2::text[]) = 0 OR chunk_type = ANY($2))
			 ORDER BY updated_at DESC, id DESC
			 LIMIT $3`,
			vehicleKey, chunkTypes, limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanChunkRows(rows)
	if err != nil {
		return nil, err
	}

	return pagination.Page(items, limit, func(c *domain.Chunk) (string, time.Time) {
		return c.ID, c.UpdatedAt
	}), nil
}

func (r *ChunkRepository) ListByIDs(ctx context.Context, ids []string) ([]*domain.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ANY($1::uuid[]) ORDER BY created_at`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// ListPendingQA returns chunks awaiting review: pending ones, plus candidates
// and verified chunks last reviewed before reviewedBefore, so candidates can
// be promoted and verified chunks re-checked on a later day.
func (r *ChunkRepository) ListPendingQA(ctx context.Context, limit int, reviewedBefore time.Time) ([]*domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE verified_status NOT IN ('banned', 'manual_required')
		   AND (qa_status = 'pending'
		        OR (verified_status = 'candidate' AND qa_status = 'pass' AND last_qa_reviewed_at < $1)
		        OR (verified_status = 'verified' AND last_qa_reviewed_at < $1))
		 ORDER BY created_at
		 LIMIT $2`,
		reviewedBefore, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// ListRepairable returns failed chunks still eligible for regeneration
func (r *ChunkRepository) ListRepairable(ctx context.Context, limit, maxAttempts int) ([]*domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE qa_status = 'fail'
		   AND verified_status NOT IN ('banned', 'manual_required')
		   AND regeneration_attempts < $1
		 ORDER BY updated_at
		 LIMIT $2`,
		maxAttempts, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// ApplyTransition writes the QA fields of t and every lifecycle field it sets
func (r *ChunkRepository) ApplyTransition(ctx context.Context, id string, t domain.Transition) error {
	sets := []string{"qa_status = $2", "qa_notes = $3", "last_qa_reviewed_at = $4"}
	args := []any{id, string(t.QAStatus), t.QANotes, t.LastQAReviewedAt}

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if t.VerifiedStatus != nil {
		add("verified_status", string(*t.VerifiedStatus))
	}
	if t.VerificationStatus != nil {
		add("verification_status", string(*t.VerificationStatus))
	}
	if t.PromotionCount != nil {
		add("promotion_count", *t.PromotionCount)
	}
	if t.QAPassCount != nil {
		add("qa_pass_count", *t.QAPassCount)
	}
	if t.VerifiedAt != nil {
		add("verified_at", *t.VerifiedAt)
	}
	if t.FailedAt != nil {
		add("failed_at", *t.FailedAt)
	}
	sets = append(sets, "updated_at = NOW()", "revision = revision + 1")

	tag, err := r.db.Exec(ctx, `UPDATE chunks SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return mapWriteError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}

func (r *ChunkRepository) CountByQAStatus(ctx context.Context) (map[domain.QAStatus]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT qa_status, COUNT(*) FROM chunks GROUP BY qa_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.QAStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.QAStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *ChunkRepository) CountByVerifiedStatus(ctx context.Context) (map[domain.VerifiedStatus]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT verified_status, COUNT(*) FROM chunks GROUP BY verified_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.VerifiedStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.VerifiedStatus(status)] = n
	}
	return counts, rows.Err()
}

// safetyCriticalPredicate mirrors domain.IsSafetyCritical in SQL
func safetyCriticalPredicate() string {
	types := domain.SafetyCriticalTypes()
	quoted := make([]string, len(types))
	for i, t := range types {
		quoted[i] = "'" + t + "'"
	}
	likes := make([]string, 0, len(domain.SafetyCriticalMarkers()))
	for _, m := range domain.SafetyCriticalMarkers() {
		likes = append(likes, "lower(content_id) LIKE '%"+m+"%'")
	}
	return "(lower(chunk_type) IN (" + strings.Join(quoted, ", ") + ") OR " + strings.Join(likes, " OR ") + ")"
}

// Stats gathers every daily report counter in one query. dayStart bounds
// the regenerated and newly generated counters.
func (r *ChunkRepository) Stats(ctx context.Context, dayStart time.Time) (domain.QAStats, error) {
	var s domain.QAStats
	err := r.db.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE qa_status = 'pending'),
			COUNT(*) FILTER (WHERE qa_status = 'pass'),
			COUNT(*) FILTER (WHERE qa_status = 'fail'),
			COUNT(*) FILTER (WHERE regenerated_at >= $1),
			COUNT(*) FILTER (WHERE verified_status = 'verified'),
			COUNT(*) FILTER (WHERE verified_status = 'candidate'),
			COUNT(*) FILTER (WHERE verified_status = 'banned'),
			COUNT(*) FILTER (WHERE verified_status = 'manual_required'),
			COUNT(*) FILTER (WHERE verified_status IN ('unverified', 'candidate') AND `+safetyCriticalPredicate()+`),
			COUNT(*) FILTER (WHERE created_at >= $1),
			COUNT(*)
		 FROM chunks`,
		dayStart,
	).Scan(&s.Pending, &s.Pass, &s.Fail, &s.Regenerated, &s.VerifiedTotal, &s.CandidateTotal,
		&s.BannedTotal, &s.ManualRequiredTotal, &s.QuarantinedTotal, &s.NewlyGeneratedToday, &s.Total)
	return s, err
}

// StatusesByContentID returns the lifecycle status of each content id present for the vehicle
func (r *ChunkRepository) StatusesByContentID(ctx context.Context, vehicleKey string, contentIDs []string) (map[string]domain.VerifiedStatus, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (content_id) content_id, verified_status
		 FROM chunks WHERE vehicle_key = $1 AND content_id = ANY($2)
		 ORDER BY content_id, updated_at DESC`,
		vehicleKey, contentIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.VerifiedStatus)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		out[id] = domain.VerifiedStatus(status)
	}
	return out, rows.Err()
}

// FindReusable returns the newest non-banned chunk of the type whose title
// mentions keyword
func (r *ChunkRepository) FindReusable(ctx context.Context, vehicleKey, chunkType, keyword string) (*domain.Chunk, error) {
	return r.getOne(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE vehicle_key = $1 AND chunk_type = $2 AND title ILIKE '%' || $3 || '%'
		   AND verified_status NOT IN ('banned', 'manual_required')
		 ORDER BY updated_at DESC
		 LIMIT 1`,
		vehicleKey, chunkType, keyword,
	)
}

// FindSimilar ranks the vehicle's embedded chunks by cosine distance. An
// empty chunkTypes matches every type.
func (r *ChunkRepository) FindSimilar(ctx context.Context, vehicleKey string, chunkTypes []string, vector []float32, limit int) ([]*domain.Chunk, error) {
	if chunkTypes == nil {
		chunkTypes = []string{}
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE vehicle_key = $1 AND (cardinality($2::text[]) = 0 OR chunk_type = ANY($2))
		   AND embedding IS NOT NULL
		   AND verified_status NOT IN ('banned', 'manual_required')
		 ORDER BY embedding <=> $3
		 LIMIT $4`,
		vehicleKey, chunkTypes, pgvector.NewVector(vector), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

// SearchText ranks the vehicle's chunks by full-text match on title and content
func (r *ChunkRepository) SearchText(ctx context.Context, vehicleKey string, chunkTypes []string, query string, limit int) ([]*domain.Chunk, error) {
	if chunkTypes == nil {
		chunkTypes = []string{}
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE vehicle_key = $1 AND (cardinality($2::text[]) = 0 OR chunk_type = ANY($2))
		   AND search_tsv @@ websearch_to_tsquery('english', $3)
		   AND verified_status NOT IN ('banned', 'manual_required')
		 ORDER BY ts_rank(search_tsv, websearch_to_tsquery('english', $3)) DESC, updated_at DESC
		 LIMIT $4`,
		vehicleKey, chunkTypes, query, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func (r *ChunkRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]*domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks
		 WHERE embedding IS NULL AND verified_status NOT IN ('banned', 'manual_required')
		 ORDER BY created_at
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func (r *ChunkRepository) SetEmbedding(ctx context.Context, id string, vector []float32) error {
	tag, err := r.db.Exec(ctx, `UPDATE chunks SET embedding = $2 WHERE id = $1`, id, pgvector.NewVector(vector))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrChunkNotFound
	}
	return nil
}
