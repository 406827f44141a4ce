package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/servicechunks/internal/domain"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusOK, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "value", result["key"])
}

func TestJSON_NilData(t *testing.T) {
	w := httptest.NewRecorder()

	JSON(w, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	Success(w, http.StatusCreated, map[string]string{"id": "123"})

	assert.Equal(t, http.StatusCreated, w.Code)

	var result SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	data, ok := result.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "123", data["id"])
}

func TestDomainErrorToHTTP(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", domain.ErrInvalidVehicleKey, http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("get: %w", domain.ErrChunkNotFound), http.StatusNotFound},
		{"report exists", domain.ErrReportAlreadyExists, http.StatusConflict},
		{"unauthorized", domain.ErrInvalidAPIKey, http.StatusUnauthorized},
		{"contamination", &domain.ContaminationError{Rule: "cross_brand"}, http.StatusUnprocessableEntity},
		{"collaborator", &domain.CollaboratorError{Collaborator: "brave", Err: errors.New("503")}, http.StatusBadGateway},
		{"persistence conflict", &domain.PersistenceConflictError{Constraint: "chunks_qa_status_check"}, http.StatusConflict},
		{"cycle overlap", domain.ErrSchedulerOverlap, http.StatusConflict},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DomainErrorToHTTP(tt.err))
		})
	}
}

func TestHandleError(t *testing.T) {
	t.Run("domain error keeps message and code", func(t *testing.T) {
		w := httptest.NewRecorder()

		HandleError(w, domain.ErrChunkNotFound)

		assert.Equal(t, http.StatusNotFound, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, domain.ErrCodeNotFound, resp.Code)
		assert.Contains(t, resp.Error, "chunk not found")
	})

	t.Run("internal error is masked", func(t *testing.T) {
		w := httptest.NewRecorder()

		HandleError(w, errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}

func TestValidationError(t *testing.T) {
	type body struct {
		BatchSize int `validate:"min=1,max=50"`
	}
	err := validator.New().Struct(body{BatchSize: 80})
	require.Error(t, err)

	w := httptest.NewRecorder()
	ValidationError(w, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "max", resp.Fields["BatchSize"])
}
