package admin

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/pagination"
)

type memBatcher struct {
	pending []*domain.Chunk
	flushed []*domain.Chunk
	flushes int
}

func (m *memBatcher) Add(c *domain.Chunk) { m.pending = append(m.pending, c) }
func (m *memBatcher) Len() int            { return len(m.pending) }

func (m *memBatcher) Flush(context.Context) []*domain.Chunk {
	m.flushes++
	out := m.pending
	m.flushed = append(m.flushed, out...)
	m.pending = nil
	return out
}

func TestChunkRecord_ToChunk(t *testing.T) {
	t.Run("defaults a fresh chunk", func(t *testing.T) {
		c, err := chunkRecord{
			VehicleKey: "2019_toyota_camry_hybrid",
			ContentID:  "oil_change",
			ChunkType:  "procedure",
		}.toChunk()

		require.NoError(t, err)
		assert.Equal(t, domain.VerifiedStatusUnverified, c.VerifiedStatus)
		assert.Equal(t, domain.QAStatusPending, c.QAStatus)
		assert.Equal(t, domain.LegacyStatusUnverified, c.VerificationStatus)
		assert.Equal(t, domain.TemplateTypeHybrid, c.TemplateType)
		assert.NotNil(t, c.Data)
	})

	t.Run("legacy status follows the lifecycle", func(t *testing.T) {
		c, err := chunkRecord{
			VehicleKey:         "2020_ford_f150_5.0l",
			ContentID:          "oil_change",
			ChunkType:          "procedure",
			VerifiedStatus:     "verified",
			QAStatus:           "pass",
			VerificationStatus: "pending_review",
		}.toChunk()

		require.NoError(t, err)
		assert.Equal(t, domain.LegacyStatusAutoVerified, c.VerificationStatus)
	})

	t.Run("unknown lifecycle value", func(t *testing.T) {
		_, err := chunkRecord{
			VehicleKey:     "2020_ford_f150_5.0l",
			ContentID:      "oil_change",
			ChunkType:      "procedure",
			VerifiedStatus: "approved",
		}.toChunk()

		assert.ErrorIs(t, err, domain.ErrInvalidVerifiedStatus)
	})
}

func TestReplay(t *testing.T) {
	input := strings.Join([]string{
		`{"vehicle_key":"2020_ford_f150_5.0l","content_id":"oil_change","chunk_type":"procedure"}`,
		``,
		`{not json`,
		`{"vehicle_key":"","content_id":"x","chunk_type":"procedure"}`,
		`{"vehicle_key":"2020_ford_f150_5.0l","content_id":"lug_nut_torque","chunk_type":"torque_spec"}`,
	}, "\n")
	batcher := &memBatcher{}

	stats, err := replay(context.Background(), strings.NewReader(input), batcher, zap.NewNop())

	require.NoError(t, err)
	assert.Equal(t, 4, stats.read)
	assert.Equal(t, 2, stats.invalid)
	assert.Equal(t, 2, stats.written)
	assert.Equal(t, 1, batcher.flushes)
}

type pagedLister struct {
	pages   []*pagination.PageResult[*domain.Chunk]
	cursors []*pagination.Cursor
}

func (p *pagedLister) ListByVehicle(_ context.Context, _ string, _ []string, cursor *pagination.Cursor, _ int) (*pagination.PageResult[*domain.Chunk], error) {
	p.cursors = append(p.cursors, cursor)
	page := p.pages[0]
	p.pages = p.pages[1:]
	return page, nil
}

func TestExportVehicle_RoundTripsThroughReplay(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	next := pagination.EncodeCursor("c1", at)

	verified := &domain.Chunk{
		ID: "c1", VehicleKey: "2020_ford_f150_5.0l", ContentID: "oil_change", ChunkType: "procedure",
		VerifiedStatus: domain.VerifiedStatusVerified, QAStatus: domain.QAStatusPass,
		VerificationStatus: domain.LegacyStatusAutoVerified, PromotionCount: 2, QAPassCount: 2,
		Data: map[string]any{"steps": []any{"Drain", "Refill"}},
	}
	pending := &domain.Chunk{
		ID: "c2", VehicleKey: "2020_ford_f150_5.0l", ContentID: "spark_plugs", ChunkType: "procedure",
		VerifiedStatus: domain.VerifiedStatusUnverified, QAStatus: domain.QAStatusPending,
		VerificationStatus: domain.LegacyStatusUnverified,
	}
	lister := &pagedLister{pages: []*pagination.PageResult[*domain.Chunk]{
		{Items: []*domain.Chunk{verified}, Cursor: next, HasMore: true},
		{Items: []*domain.Chunk{pending}},
	}}

	var buf bytes.Buffer
	n, err := exportVehicle(context.Background(), lister, &buf, "2020_ford_f150_5.0l", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, lister.cursors, 2)
	assert.Nil(t, lister.cursors[0])
	assert.Equal(t, "c1", lister.cursors[1].LastID)

	batcher := &memBatcher{}
	stats, err := replay(context.Background(), &buf, batcher, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.written)
	assert.Equal(t, domain.VerifiedStatusVerified, batcher.flushed[0].VerifiedStatus)
	assert.Equal(t, 2, batcher.flushed[0].PromotionCount)
	assert.Equal(t, domain.LegacyStatusAutoVerified, batcher.flushed[0].VerificationStatus)
	assert.Equal(t, domain.QAStatusPending, batcher.flushed[1].QAStatus)
}
