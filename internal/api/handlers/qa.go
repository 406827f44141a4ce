package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/cloo-solutions/servicechunks/internal/api"
	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/jobs"
	"github.com/cloo-solutions/servicechunks/internal/service"
)

const (
	defaultQABatchSize = 10
	batchSizeRule      = "min=1,max=50"
	defaultReportLimit = 30
)

type QAService interface {
	RunBatch(ctx context.Context, limit int) ([]service.QAResult, error)
	RepairBatch(ctx context.Context, ids []string, limit int) (*service.RepairSummary, error)
}

type ReportService interface {
	Live(ctx context.Context) (*service.LiveMetrics, error)
	Latest(ctx context.Context) (*domain.DailyReport, error)
	List(ctx context.Context, limit int) ([]*domain.DailyReport, error)
}

// CycleRunner is the QA scheduler as seen by the API
type CycleRunner interface {
	TriggerCycle(ctx context.Context) error
	Health() jobs.Health
}

type QAHandler struct {
	qa        QAService
	reports   ReportService
	scheduler CycleRunner
}

func NewQAHandler(qa QAService, reports ReportService, scheduler CycleRunner) *QAHandler {
	return &QAHandler{qa: qa, reports: reports, scheduler: scheduler}
}

type RepairRequest struct {
	ChunkIDs []string `json:"chunk_ids" validate:"max=200,dive,required"`
}

type RunResponse struct {
	Processed int                `json:"processed"`
	Updated   int                `json:"updated"`
	Results   []service.QAResult `json:"results"`
}

func (h *QAHandler) Run(w http.ResponseWriter, r *http.Request) {
	batchSize, err := intQuery(r, "batch_size", defaultQABatchSize, batchSizeRule)
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.qa.RunBatch(r.Context(), batchSize)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := RunResponse{Processed: len(results), Results: results}
	for _, res := range results {
		if res.Updated {
			resp.Updated++
		}
	}
	if resp.Results == nil {
		resp.Results = []service.QAResult{}
	}
	api.Success(w, http.StatusOK, resp)
}

func (h *QAHandler) Repair(w http.ResponseWriter, r *http.Request) {
	batchSize, err := intQuery(r, "batch_size", defaultQABatchSize, batchSizeRule)
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	var req RepairRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errInvalidBody) {
			api.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		api.ValidationError(w, err)
		return
	}

	summary, err := h.qa.RepairBatch(r.Context(), req.ChunkIDs, batchSize)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, summary)
}

// Cycle starts a full QA cycle in the background
func (h *QAHandler) Cycle(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		api.Error(w, http.StatusServiceUnavailable, "qa scheduler not configured")
		return
	}
	if err := h.scheduler.TriggerCycle(r.Context()); err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *QAHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		api.Success(w, http.StatusOK, jobs.Health{LastRunStatus: domain.RunStatusNeverRun})
		return
	}
	api.Success(w, http.StatusOK, h.scheduler.Health())
}

func (h *QAHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.Latest(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, report)
}

func (h *QAHandler) Reports(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultReportLimit, "min=1,max=365")
	if err != nil {
		api.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	reports, err := h.reports.List(r.Context(), limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if reports == nil {
		reports = []*domain.DailyReport{}
	}
	api.Success(w, http.StatusOK, reports)
}

func (h *QAHandler) LiveMetrics(w http.ResponseWriter, r *http.Request) {
	live, err := h.reports.Live(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, live)
}
