package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/servicechunks/internal/domain"
)

type stubEmbedder struct {
	vector []float32
	err    error
}

func (s *stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return s.vector, s.err
}

func searchChunk(id, contentID, chunkType string, status domain.VerifiedStatus) *domain.Chunk {
	return &domain.Chunk{
		ID:             id,
		VehicleKey:     "2020_ford_f150_5.0l",
		ContentID:      contentID,
		ChunkType:      chunkType,
		ContentText:    "Drain the oil and replace the filter.",
		VerifiedStatus: status,
		QAStatus:       domain.QAStatusPending,
	}
}

func TestKeywordTerms(t *testing.T) {
	assert.Equal(t, []string{"change", "oil"}, keywordTerms("How do I change the oil?"))
	assert.Equal(t, []string{"5w-20", "capacity", "5.0l"}, keywordTerms("5W-20 capacity for the 5.0L"))
	assert.Empty(t, keywordTerms("what is the"))
}

func TestMakeSnippet(t *testing.T) {
	assert.Equal(t, "a b c", makeSnippet("  a\n b\t c "))

	long := make([]rune, 300)
	for i := range long {
		long[i] = 'é'
	}
	snippet := makeSnippet(string(long))
	assert.Len(t, []rune(snippet), snippetMaxChars)
	assert.True(t, len(snippet) > snippetMaxChars, "multi-byte runes are kept whole")
}

func TestFuse(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	both := searchChunk("both", "oil_change", "procedure", domain.VerifiedStatusUnverified)
	semanticOnly := searchChunk("semantic", "oil_filter", "procedure", domain.VerifiedStatusUnverified)
	lexicalOnly := searchChunk("lexical", "oil_capacity", "fluid_capacity", domain.VerifiedStatusUnverified)
	quarantined := searchChunk("brakes", "brake_pads", "brake_service", domain.VerifiedStatusUnverified)

	hits := fuse(
		[]*domain.Chunk{semanticOnly, both, quarantined},
		[]*domain.Chunk{both, lexicalOnly},
		now,
	)

	require.Len(t, hits, 3)
	assert.Equal(t, "both", hits[0].Chunk.ID)
	assert.True(t, hits[0].Semantic)
	assert.True(t, hits[0].Lexical)
	assert.Equal(t, "semantic", hits[1].Chunk.ID, "semantic rank weighs more than lexical rank")
	assert.Equal(t, "lexical", hits[2].Chunk.ID)
}

func TestFuse_TrustBoost(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	first := searchChunk("first", "oil_change", "procedure", domain.VerifiedStatusUnverified)
	second := searchChunk("second", "oil_filter", "procedure", domain.VerifiedStatusVerified)

	hits := fuse(nil, []*domain.Chunk{first, second}, now)

	require.Len(t, hits, 2)
	assert.Equal(t, "second", hits[0].Chunk.ID)
}

func TestRecencyBoost(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	assert.InDelta(t, recencyMaxBoost, recencyBoost(now, now), 1e-12)
	assert.InDelta(t, recencyMaxBoost/2, recencyBoost(now.Add(-15*24*time.Hour), now), 1e-12)
	assert.Zero(t, recencyBoost(now.Add(-60*24*time.Hour), now))
	assert.Zero(t, recencyBoost(time.Time{}, now))
}

func TestChunkService_Search(t *testing.T) {
	ctx := context.Background()
	vehicle := "2020_ford_f150_5.0l"
	oil := searchChunk("c1", "oil_change", "procedure", domain.VerifiedStatusVerified)

	t.Run("hybrid uses both rankings", func(t *testing.T) {
		repo := new(MockChunkRepository)
		svc := NewChunkService(repo, nil, nil).WithEmbedder(&stubEmbedder{vector: []float32{1, 0}})
		repo.On("FindSimilar", mock.Anything, vehicle, []string(nil), []float32{1, 0}, 40).Return([]*domain.Chunk{oil}, nil)
		repo.On("SearchText", mock.Anything, vehicle, []string(nil), "change or oil", 40).Return([]*domain.Chunk{oil}, nil)

		hits, err := svc.Search(ctx, SearchInput{VehicleKey: vehicle, Query: "how do I change the oil"})

		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.True(t, hits[0].Semantic && hits[0].Lexical)
		repo.AssertExpectations(t)
	})

	t.Run("hybrid degrades to full-text without an embedder", func(t *testing.T) {
		repo := new(MockChunkRepository)
		svc := NewChunkService(repo, nil, nil)
		repo.On("SearchText", mock.Anything, vehicle, []string{"procedure"}, "oil", 40).Return([]*domain.Chunk{oil}, nil)

		hits, err := svc.Search(ctx, SearchInput{VehicleKey: vehicle, Query: "oil", ChunkTypes: []string{"procedure"}, Limit: 10})

		require.NoError(t, err)
		require.Len(t, hits, 1)
		repo.AssertNotCalled(t, "FindSimilar", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("semantic mode needs the embedder", func(t *testing.T) {
		svc := NewChunkService(new(MockChunkRepository), nil, nil).WithEmbedder(&stubEmbedder{err: errors.New("rate limited")})

		_, err := svc.Search(ctx, SearchInput{VehicleKey: vehicle, Query: "oil", Mode: SearchModeSemantic})

		assert.ErrorIs(t, err, domain.ErrCollaboratorUnavailable)
	})

	t.Run("limit trims fused results", func(t *testing.T) {
		repo := new(MockChunkRepository)
		svc := NewChunkService(repo, nil, nil)
		other := searchChunk("c2", "oil_filter", "procedure", domain.VerifiedStatusUnverified)
		repo.On("SearchText", mock.Anything, vehicle, []string(nil), "oil", minCandidates).Return([]*domain.Chunk{oil, other}, nil)

		hits, err := svc.Search(ctx, SearchInput{VehicleKey: vehicle, Query: "oil", Mode: SearchModeLexical, Limit: 1})

		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "c1", hits[0].Chunk.ID)
	})

	t.Run("blank query", func(t *testing.T) {
		hits, err := NewChunkService(new(MockChunkRepository), nil, nil).Search(ctx, SearchInput{VehicleKey: vehicle, Query: "  "})

		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("invalid vehicle key", func(t *testing.T) {
		_, err := NewChunkService(new(MockChunkRepository), nil, nil).Search(ctx, SearchInput{VehicleKey: "f150", Query: "oil"})

		assert.ErrorIs(t, err, domain.ErrInvalidVehicleKey)
	})
}

func TestParseSearchMode(t *testing.T) {
	assert.Equal(t, SearchModeSemantic, ParseSearchMode(" Semantic "))
	assert.Equal(t, SearchModeLexical, ParseSearchMode("lexical"))
	assert.Equal(t, SearchModeHybrid, ParseSearchMode(""))
	assert.Equal(t, SearchModeHybrid, ParseSearchMode("fuzzy"))
}
