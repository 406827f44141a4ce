package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunQARun_Table(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "5", r.URL.Query().Get("batch_size"))
		writeEnvelope(w, http.StatusOK, map[string]any{"data": map[string]any{
			"processed": 2,
			"updated":   1,
			"results": []map[string]any{
				{"chunk_id": "c1", "vehicle_key": "2020_ford_f150_5.0l", "content_id": "oil_change", "new_status": "pass", "updated": true},
				{"chunk_id": "c2", "vehicle_key": "2020_ford_f150_5.0l", "content_id": "brake_pads", "new_status": "fail", "notes": "wrong torque"},
			},
		}})
	})

	var out bytes.Buffer
	require.NoError(t, runQARun(context.Background(), c, &out, 5, false))

	assert.Contains(t, out.String(), "Processed 2, updated 1")
	assert.Contains(t, out.String(), "fail (not written)")
	assert.Contains(t, out.String(), "wrong torque")
}

func TestRunQARepair_SendsIDs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string][]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"c1", "c2"}, body["chunk_ids"])
		writeEnvelope(w, http.StatusOK, map[string]any{"data": map[string]any{
			"total_processed": 2, "repaired": 1, "failed": 1,
			"details": []map[string]any{
				{"chunk_id": "c1", "status": "repaired"},
				{"chunk_id": "c2", "status": "failed", "reason": "content rejected by contamination guard"},
			},
		}})
	})

	var out bytes.Buffer
	require.NoError(t, runQARepair(context.Background(), c, &out, []string{"c1", "c2"}, 10, false))

	assert.Contains(t, out.String(), "repaired 1, skipped 0, failed 1")
	assert.Contains(t, out.String(), "c2 failed: content rejected")
	assert.NotContains(t, out.String(), "c1 repaired")
}

func TestRunQAHealth_NeverRun(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"data": map[string]any{
			"is_running": false, "last_run_status": "never_run",
		}})
	})

	var out bytes.Buffer
	require.NoError(t, runQAHealth(context.Background(), c, &out, false))

	assert.Contains(t, out.String(), "Last run: never (never_run)")
	assert.Contains(t, out.String(), "Next run: never")
}

func TestRunQAReport_History(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/qa/reports", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("limit"))
		writeEnvelope(w, http.StatusOK, map[string]any{"data": []map[string]any{
			{"report_date": "2026-03-02T00:00:00Z", "summary": "QA: 4 pass, 1 fail"},
		}})
	})

	var out bytes.Buffer
	require.NoError(t, runQAReport(context.Background(), c, &out, 7, false))

	assert.Contains(t, out.String(), "2026-03-02")
	assert.Contains(t, out.String(), "QA: 4 pass, 1 fail")
}

func TestRunChunkList_Query(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vehicles/2020_ford_f150_5.0l/chunks", r.URL.Path)
		assert.Equal(t, "procedure,torque_spec", r.URL.Query().Get("type"))
		assert.Equal(t, "abc", r.URL.Query().Get("cursor"))
		writeEnvelope(w, http.StatusOK, map[string]any{"data": map[string]any{
			"items":    []map[string]any{{"id": "c1", "content_id": "oil_change", "chunk_type": "procedure", "verified_status": "verified", "visibility": "visible"}},
			"cursor":   "next",
			"has_more": true,
		}})
	})

	var out bytes.Buffer
	err := runChunkList(context.Background(), c, &out, "2020_ford_f150_5.0l", []string{"procedure", "torque_spec"}, 20, "abc", false)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "oil_change")
	assert.Contains(t, out.String(), "--cursor next")
}

func TestRunChunkSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/vehicles/2020_ford_f150_5.0l/chunks/search", r.URL.Path)
		assert.Equal(t, "oil drain plug torque", r.URL.Query().Get("q"))
		assert.Equal(t, "lexical", r.URL.Query().Get("mode"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeEnvelope(w, http.StatusOK, map[string]any{"data": map[string]any{
			"query": "oil drain plug torque",
			"mode":  "lexical",
			"hits": []map[string]any{{
				"chunk":   map[string]any{"id": "c1", "title": "Drain plug torque", "content_id": "oil_drain_plug", "chunk_type": "torque", "verified_status": "verified"},
				"score":   0.0159,
				"snippet": "Tighten the drain plug to 25 N·m.",
				"lexical": true,
			}},
		}})
	})

	var out bytes.Buffer
	err := runChunkSearch(context.Background(), c, &out, "2020_ford_f150_5.0l", "oil drain plug torque", nil, "lexical", 5, false)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "1. Drain plug torque [oil_drain_plug/torque] verified")
	assert.Contains(t, out.String(), "Tighten the drain plug")
}

func TestRunChunkBaseline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"data": map[string]any{
			"vehicle_key": "2020_ford_f150_5.0l",
			"statuses":    map[string]string{"oil_change": "verified", "spark_plugs": "missing"},
			"missing":     []string{"spark_plugs"},
			"complete":    false,
		}})
	})

	var out bytes.Buffer
	err := runChunkBaseline(context.Background(), c, &out, "2020_ford_f150_5.0l", []string{"oil_change", "spark_plugs"}, false)

	require.NoError(t, err)
	assert.Contains(t, out.String(), "Missing 1 of 2")
}

func TestRunGenerate_Rejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "Cross-brand contamination",
			"code":   "CONTAMINATION_REJECTED",
			"fields": map[string]string{"rule": "cross_brand"},
		})
	})

	err := runGenerate(context.Background(), c, &bytes.Buffer{}, GenerateRequest{
		VehicleKey: "2020_ford_f150_5.0l", ContentID: "oil_change", ChunkType: "procedure",
	}, false)

	assert.EqualError(t, err, "content rejected (cross_brand): Cross-brand contamination")
}

func TestRunGenerate_JSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusCreated, map[string]any{"data": map[string]any{
			"chunk": map[string]any{"id": "c9"},
			"stub":  true,
			"cost":  0.0021,
		}})
	})

	var out bytes.Buffer
	require.NoError(t, runGenerate(context.Background(), c, &out, GenerateRequest{}, true))

	var res GenerateResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, "c9", res.Chunk.ID)
	assert.True(t, res.Stub)
}
