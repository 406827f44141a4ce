package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/cloo-solutions/servicechunks/internal/api"
	"github.com/cloo-solutions/servicechunks/internal/consensus"
	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/generation"
	"github.com/cloo-solutions/servicechunks/internal/pagination"
	"github.com/cloo-solutions/servicechunks/internal/service"
)

type ChunkService interface {
	Get(ctx context.Context, id string) (*domain.Chunk, error)
	ListByVehicle(ctx context.Context, in service.ListChunksInput) (*pagination.PageResult[*domain.Chunk], error)
	CheckBaseline(ctx context.Context, vehicleKey string, requiredIDs []string) (map[string]string, error)
	Search(ctx context.Context, in service.SearchInput) ([]*service.SearchHit, error)
}

type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Outcome, error)
}

type ChunkHandler struct {
	chunks    ChunkService
	generator Generator
}

func NewChunkHandler(chunks ChunkService, generator Generator) *ChunkHandler {
	return &ChunkHandler{chunks: chunks, generator: generator}
}

type GenerateChunkRequest struct {
	VehicleKey   string `json:"vehicle_key" validate:"required,min=3"`
	ContentID    string `json:"content_id" validate:"required,max=200"`
	ChunkType    string `json:"chunk_type" validate:"required,max=64"`
	Title        string `json:"title" validate:"max=300"`
	Component    string `json:"component" validate:"max=200"`
	ForceRefresh bool   `json:"force_refresh"`
}

type BaselineRequest struct {
	ContentIDs []string `json:"content_ids" validate:"required,min=1,max=500,dive,required"`
}

type ChunkResponse struct {
	ID                   string         `json:"id"`
	VehicleKey           string         `json:"vehicle_key"`
	ContentID            string         `json:"content_id"`
	ChunkType            string         `json:"chunk_type"`
	TemplateType         string         `json:"template_type"`
	Title                string         `json:"title"`
	ContentText          string         `json:"content_text"`
	Data                 map[string]any `json:"data"`
	Sources              []string       `json:"sources"`
	VerificationStatus   string         `json:"verification_status"`
	VerifiedStatus       string         `json:"verified_status"`
	QAStatus             string         `json:"qa_status"`
	QANotes              string         `json:"qa_notes,omitempty"`
	Visibility           string         `json:"visibility"`
	SourceConfidence     float64        `json:"source_confidence"`
	ConsensusScore       *float64       `json:"consensus_score,omitempty"`
	PromotionCount       int            `json:"promotion_count"`
	QAPassCount          int            `json:"qa_pass_count"`
	RegenerationAttempts int            `json:"regeneration_attempts"`
	LastQAReviewedAt     *time.Time     `json:"last_qa_reviewed_at,omitempty"`
	VerifiedAt           *time.Time     `json:"verified_at,omitempty"`
	Revision             int64          `json:"revision"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

type ChunkPageResponse struct {
	Items   []*ChunkResponse `json:"items"`
	Cursor  string           `json:"cursor,omitempty"`
	HasMore bool             `json:"has_more"`
}

type SearchHitResponse struct {
	Chunk    *ChunkResponse `json:"chunk"`
	Score    float64        `json:"score"`
	Snippet  string         `json:"snippet"`
	Semantic bool           `json:"semantic"`
	Lexical  bool           `json:"lexical"`
}

type SearchResponse struct {
	Query string               `json:"query"`
	Mode  string               `json:"mode"`
	Hits  []*SearchHitResponse `json:"hits"`
}

type GenerateResponse struct {
	Chunk  *ChunkResponse          `json:"chunk"`
	Reused bool                    `json:"reused"`
	Stub   bool                    `json:"stub"`
	Score  *consensus.Score        `json:"score,omitempty"`
	Report *generation.BatchReport `json:"report,omitempty"`
	Cost   float64                 `json:"cost"`
}

func chunkToResponse(c *domain.Chunk) *ChunkResponse {
	if c == nil {
		return nil
	}
	return &ChunkResponse{
		ID:                   c.ID,
		VehicleKey:           c.VehicleKey,
		ContentID:            c.ContentID,
		ChunkType:            c.ChunkType,
		TemplateType:         string(c.TemplateType),
		Title:                c.Title,
		ContentText:          c.ContentText,
		Data:                 c.Data,
		Sources:              c.Sources,
		VerificationStatus:   string(c.VerificationStatus),
		VerifiedStatus:       string(c.VerifiedStatus),
		QAStatus:             string(c.QAStatus),
		QANotes:              c.QANotes,
		Visibility:           string(c.Visibility()),
		SourceConfidence:     c.SourceConfidence,
		ConsensusScore:       c.ConsensusScore,
		PromotionCount:       c.PromotionCount,
		QAPassCount:          c.QAPassCount,
		RegenerationAttempts: c.RegenerationAttempts,
		LastQAReviewedAt:     c.LastQAReviewedAt,
		VerifiedAt:           c.VerifiedAt,
		Revision:             c.Revision,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

// Generate produces one chunk. A contamination rejection answers 422 with
// the rule that blocked it.
func (h *ChunkHandler) Generate(w http.ResponseWriter, r *http.Request) {
	if h.generator == nil {
		api.Error(w, http.StatusServiceUnavailable, "generation not configured")
		return
	}

	var req GenerateChunkRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errInvalidBody) {
			api.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		api.ValidationError(w, err)
		return
	}

	out, err := h.generator.Generate(r.Context(), generation.Request{
		VehicleKey:   req.VehicleKey,
		ContentID:    req.ContentID,
		ChunkType:    req.ChunkType,
		Title:        req.Title,
		Component:    req.Component,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	if out.Rejected {
		api.JSON(w, http.StatusUnprocessableEntity, api.ErrorResponse{
			Error: out.Reason,
			Code:  domain.ErrCodeContaminationRejected,
			Fields: map[string]string{
				"rule": out.Rule,
			},
		})
		return
	}

	status := http.StatusCreated
	if out.Reused {
		status = http.StatusOK
	}
	api.Success(w, status, GenerateResponse{
		Chunk:  chunkToResponse(out.Chunk),
		Reused: out.Reused,
		Stub:   out.Stub,
		Score:  out.Score,
		Report: out.Report,
		Cost:   out.Cost,
	})
}

func (h *ChunkHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	chunk, err := h.chunks.Get(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, chunkToResponse(chunk))
}

// ListByVehicle pages through a vehicle's chunks, optionally filtered by a
// comma-separated type list
func (h *ChunkHandler) ListByVehicle(w http.ResponseWriter, r *http.Request) {
	vehicleKey := chi.URLParam(r, "vehicleKey")
	limit, err := intQuery(r, "limit", 20, "min=1,max=100")
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.chunks.ListByVehicle(r.Context(), service.ListChunksInput{
		VehicleKey: vehicleKey,
		ChunkTypes: typeFilter(r),
		Cursor:     r.URL.Query().Get("cursor"),
		Limit:      limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ChunkPageResponse{
		Items:   lo.Map(page.Items, func(c *domain.Chunk, _ int) *ChunkResponse { return chunkToResponse(c) }),
		Cursor:  page.Cursor,
		HasMore: page.HasMore,
	})
}

// Baseline reports the lifecycle status of each required content id
func (h *ChunkHandler) Baseline(w http.ResponseWriter, r *http.Request) {
	vehicleKey := chi.URLParam(r, "vehicleKey")

	var req BaselineRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errInvalidBody) {
			api.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		api.ValidationError(w, err)
		return
	}

	statuses, err := h.chunks.CheckBaseline(r.Context(), vehicleKey, req.ContentIDs)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	missing := lo.Filter(req.ContentIDs, func(id string, _ int) bool {
		return statuses[id] == service.BaselineMissing
	})
	api.Success(w, http.StatusOK, map[string]any{
		"vehicle_key": vehicleKey,
		"statuses":    statuses,
		"missing":     missing,
		"complete":    len(missing) == 0,
	})
}

// Search ranks a vehicle's readable chunks against the q parameter
func (h *ChunkHandler) Search(w http.ResponseWriter, r *http.Request) {
	vehicleKey := chi.URLParam(r, "vehicleKey")
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		api.Error(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, err := intQuery(r, "limit", 10, "min=1,max=50")
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := service.ParseSearchMode(r.URL.Query().Get("mode"))

	hits, err := h.chunks.Search(r.Context(), service.SearchInput{
		VehicleKey: vehicleKey,
		ChunkTypes: typeFilter(r),
		Query:      query,
		Mode:       mode,
		Limit:      limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, SearchResponse{
		Query: query,
		Mode:  string(mode),
		Hits: lo.Map(hits, func(hit *service.SearchHit, _ int) *SearchHitResponse {
			return &SearchHitResponse{
				Chunk:    chunkToResponse(hit.Chunk),
				Score:    hit.Score,
				Snippet:  hit.Snippet,
				Semantic: hit.Semantic,
				Lexical:  hit.Lexical,
			}
		}),
	})
}

func typeFilter(r *http.Request) []string {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		return nil
	}
	return lo.Compact(lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	}))
}
