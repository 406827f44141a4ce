package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/generation"
	"github.com/cloo-solutions/servicechunks/internal/pagination"
	"github.com/cloo-solutions/servicechunks/internal/service"
)

type MockChunkService struct {
	mock.Mock
}

func (m *MockChunkService) Get(ctx context.Context, id string) (*domain.Chunk, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chunk), args.Error(1)
}

func (m *MockChunkService) ListByVehicle(ctx context.Context, in service.ListChunksInput) (*pagination.PageResult[*domain.Chunk], error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pagination.PageResult[*domain.Chunk]), args.Error(1)
}

func (m *MockChunkService) CheckBaseline(ctx context.Context, vehicleKey string, requiredIDs []string) (map[string]string, error) {
	args := m.Called(ctx, vehicleKey, requiredIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *MockChunkService) Search(ctx context.Context, in service.SearchInput) ([]*service.SearchHit, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*service.SearchHit), args.Error(1)
}

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req generation.Request) (*generation.Outcome, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*generation.Outcome), args.Error(1)
}

func withURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func brakeChunk() *domain.Chunk {
	return &domain.Chunk{
		ID:             "chunk-1",
		VehicleKey:     "2020_ford_f150_5.0l",
		ContentID:      "brake_pads",
		ChunkType:      "procedure",
		Title:          "Brake pad replacement",
		VerifiedStatus: domain.VerifiedStatusUnverified,
		QAStatus:       domain.QAStatusPending,
	}
}

func TestChunkHandler_Generate(t *testing.T) {
	body := `{"vehicle_key":"2020_ford_f150_5.0l","content_id":"brake_pads","chunk_type":"procedure"}`

	t.Run("created", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Generate", mock.Anything, mock.MatchedBy(func(r generation.Request) bool {
			return r.ContentID == "brake_pads" && r.ChunkType == "procedure"
		})).Return(&generation.Outcome{Chunk: brakeChunk(), Stub: true}, nil)
		h := NewChunkHandler(new(MockChunkService), gen)

		w := httptest.NewRecorder()
		h.Generate(w, httptest.NewRequest(http.MethodPost, "/chunks/generate", strings.NewReader(body)))

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp GenerateResponse
		decodeData(t, w, &resp)
		assert.True(t, resp.Stub)
		require.NotNil(t, resp.Chunk)
		assert.Equal(t, "visible", resp.Chunk.Visibility)
	})

	t.Run("contamination answers 422", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Generate", mock.Anything, mock.Anything).Return(&generation.Outcome{
			Rejected: true, Rule: "cross_brand", Reason: "Cross-brand contamination",
		}, nil)
		h := NewChunkHandler(new(MockChunkService), gen)

		w := httptest.NewRecorder()
		h.Generate(w, httptest.NewRequest(http.MethodPost, "/chunks/generate", strings.NewReader(body)))

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Contains(t, w.Body.String(), "cross_brand")
	})

	t.Run("missing fields", func(t *testing.T) {
		h := NewChunkHandler(new(MockChunkService), new(MockGenerator))

		w := httptest.NewRecorder()
		h.Generate(w, httptest.NewRequest(http.MethodPost, "/chunks/generate", strings.NewReader(`{"vehicle_key":"x"}`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "ContentID")
	})
}

func TestChunkHandler_Get(t *testing.T) {
	svc := new(MockChunkService)
	svc.On("Get", mock.Anything, "chunk-1").Return(brakeChunk(), nil)
	svc.On("Get", mock.Anything, "nope").Return(nil, domain.ErrChunkNotFound)
	h := NewChunkHandler(svc, nil)

	w := httptest.NewRecorder()
	h.Get(w, withURLParams(httptest.NewRequest(http.MethodGet, "/chunks/chunk-1", nil), "id", "chunk-1"))
	assert.Equal(t, http.StatusOK, w.Code)
	var got ChunkResponse
	decodeData(t, w, &got)
	assert.Equal(t, "brake_pads", got.ContentID)

	w = httptest.NewRecorder()
	h.Get(w, withURLParams(httptest.NewRequest(http.MethodGet, "/chunks/nope", nil), "id", "nope"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChunkHandler_ListByVehicle(t *testing.T) {
	svc := new(MockChunkService)
	svc.On("ListByVehicle", mock.Anything, service.ListChunksInput{
		VehicleKey: "2020_ford_f150_5.0l",
		ChunkTypes: []string{"procedure", "torque_spec"},
		Cursor:     "abc",
		Limit:      5,
	}).Return(&pagination.PageResult[*domain.Chunk]{Items: []*domain.Chunk{brakeChunk()}, Cursor: "next", HasMore: true}, nil)
	h := NewChunkHandler(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/vehicles/2020_ford_f150_5.0l/chunks?type=procedure,%20torque_spec,&cursor=abc&limit=5", nil)
	w := httptest.NewRecorder()
	h.ListByVehicle(w, withURLParams(req, "vehicleKey", "2020_ford_f150_5.0l"))

	assert.Equal(t, http.StatusOK, w.Code)
	var page ChunkPageResponse
	decodeData(t, w, &page)
	assert.Len(t, page.Items, 1)
	assert.True(t, page.HasMore)
	assert.Equal(t, "next", page.Cursor)
	svc.AssertExpectations(t)
}

func TestChunkHandler_Baseline(t *testing.T) {
	svc := new(MockChunkService)
	svc.On("CheckBaseline", mock.Anything, "2020_ford_f150_5.0l", []string{"oil_change", "brake_pads"}).
		Return(map[string]string{"oil_change": "verified", "brake_pads": service.BaselineMissing}, nil)
	h := NewChunkHandler(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/vehicles/2020_ford_f150_5.0l/baseline", strings.NewReader(`{"content_ids":["oil_change","brake_pads"]}`))
	w := httptest.NewRecorder()
	h.Baseline(w, withURLParams(req, "vehicleKey", "2020_ford_f150_5.0l"))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Missing  []string `json:"missing"`
		Complete bool     `json:"complete"`
	}
	decodeData(t, w, &resp)
	assert.Equal(t, []string{"brake_pads"}, resp.Missing)
	assert.False(t, resp.Complete)
}

func TestChunkHandler_Search(t *testing.T) {
	vehicle := "2020_ford_f150_5.0l"

	t.Run("ranks hits", func(t *testing.T) {
		svc := new(MockChunkService)
		svc.On("Search", mock.Anything, service.SearchInput{
			VehicleKey: vehicle,
			ChunkTypes: []string{"procedure"},
			Query:      "brake pads",
			Mode:       service.SearchModeLexical,
			Limit:      3,
		}).Return([]*service.SearchHit{{Chunk: brakeChunk(), Score: 0.0139, Snippet: "Remove the caliper", Lexical: true}}, nil)
		h := NewChunkHandler(svc, nil)

		req := httptest.NewRequest(http.MethodGet, "/vehicles/"+vehicle+"/chunks/search?q=brake+pads&type=procedure&mode=lexical&limit=3", nil)
		w := httptest.NewRecorder()
		h.Search(w, withURLParams(req, "vehicleKey", vehicle))

		assert.Equal(t, http.StatusOK, w.Code)
		var resp SearchResponse
		decodeData(t, w, &resp)
		assert.Equal(t, "lexical", resp.Mode)
		require.Len(t, resp.Hits, 1)
		assert.Equal(t, "chunk-1", resp.Hits[0].Chunk.ID)
		assert.True(t, resp.Hits[0].Lexical)
		assert.False(t, resp.Hits[0].Semantic)
		svc.AssertExpectations(t)
	})

	t.Run("missing query", func(t *testing.T) {
		h := NewChunkHandler(new(MockChunkService), nil)
		w := httptest.NewRecorder()
		h.Search(w, withURLParams(httptest.NewRequest(http.MethodGet, "/vehicles/"+vehicle+"/chunks/search", nil), "vehicleKey", vehicle))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("limit out of range", func(t *testing.T) {
		h := NewChunkHandler(new(MockChunkService), nil)
		w := httptest.NewRecorder()
		h.Search(w, withURLParams(httptest.NewRequest(http.MethodGet, "/vehicles/"+vehicle+"/chunks/search?q=oil&limit=500", nil), "vehicleKey", vehicle))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("embeddings down", func(t *testing.T) {
		svc := new(MockChunkService)
		svc.On("Search", mock.Anything, mock.Anything).
			Return(nil, &domain.CollaboratorError{Collaborator: "embeddings", Err: assert.AnError})
		h := NewChunkHandler(svc, nil)

		w := httptest.NewRecorder()
		h.Search(w, withURLParams(httptest.NewRequest(http.MethodGet, "/vehicles/"+vehicle+"/chunks/search?q=oil&mode=semantic", nil), "vehicleKey", vehicle))
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}
