package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewAPIClientWithConfig("test-key-0123456789", srv.URL)
	c.newBackOff = func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
	}
	return c
}

func writeEnvelope(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestAPIClient_SendsBearerKey(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key-0123456789", r.Header.Get("Authorization"))
		assert.Equal(t, "/qa/health", r.URL.Path)
		writeEnvelope(w, http.StatusOK, map[string]any{"data": map[string]any{"is_running": true}})
	})

	resp, err := c.Get(context.Background(), "/qa/health")
	require.NoError(t, err)

	var h SchedulerHealth
	require.NoError(t, decode(resp, &h))
	assert.True(t, h.IsRunning)
}

func TestAPIClient_GetRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeEnvelope(w, http.StatusServiceUnavailable, map[string]any{"error": "degraded"})
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"data": map[string]any{}})
	})

	_, err := c.Get(context.Background(), "/qa/report")

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestAPIClient_GetDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusNotFound, map[string]any{"error": "chunk not found", "code": "NOT_FOUND"})
	})

	_, err := c.Get(context.Background(), "/chunks/missing")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAPIClient_PostIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusServiceUnavailable, map[string]any{"error": "scheduler not configured"})
	})

	_, err := c.Post(context.Background(), "/qa/cycle", nil)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAPIClient_ValidationFields(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"code":   "VALIDATION_ERROR",
			"fields": map[string]string{"vehicle_key": "required"},
		})
	})

	_, err := c.Post(context.Background(), "/chunks/generate", GenerateRequest{})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "required", apiErr.Fields["vehicle_key"])
	assert.Contains(t, err.Error(), "vehicle_key: required")
}

func TestAPIClient_NonJSONError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusTeapot)
	})

	_, err := c.Get(context.Background(), "/qa/health")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTeapot, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "upstream broke")
}

func TestAPIError_Retryable(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: http.StatusBadGateway}).Retryable())
	assert.True(t, (&APIError{StatusCode: http.StatusServiceUnavailable}).Retryable())
	assert.False(t, (&APIError{StatusCode: http.StatusInternalServerError}).Retryable())
	assert.False(t, (&APIError{StatusCode: http.StatusConflict}).Retryable())
}
