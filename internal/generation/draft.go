package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/cache"
	"github.com/cloo-solutions/servicechunks/internal/consensus"
	"github.com/cloo-solutions/servicechunks/internal/openai"
	"github.com/cloo-solutions/servicechunks/internal/search"
)

// Oracle answers a single completion request
type Oracle interface {
	Complete(ctx context.Context, req openai.CompletionRequest) (*openai.Completion, error)
}

// specTypes produce label/value/unit items instead of prose
var specTypes = []string{"fluid_capacity", "torque_spec", "labor_time", "part_info"}

// IsSpecType reports whether chunkType is a short specification type
func IsSpecType(chunkType string) bool {
	return lo.Contains(specTypes, chunkType)
}

// gpt-4o-mini list prices per 1K tokens
const (
	promptCostPer1K     = 0.00015
	completionCostPer1K = 0.0006
)

const maxPromptSnippets = 8

const draftSystemPrompt = "You are an expert automotive technician writing service information. " +
	"Use only facts that apply to the exact vehicle and engine given. Respond with a single JSON object."

// draft is the content proposed for one chunk
type draft struct {
	Title       string         `json:"title"`
	ContentText string         `json:"content_text"`
	Data        map[string]any `json:"data"`
	Stub        bool           `json:"-"`
	Cost        float64        `json:"-"`
}

type draftPrompt struct {
	Vehicle   string   `json:"vehicle"`
	Engine    string   `json:"engine,omitempty"`
	ChunkType string   `json:"chunk_type"`
	Item      string   `json:"item"`
	Facts     []string `json:"facts"`
	Snippets  []string `json:"snippets"`
	Format    string   `json:"format"`
}

// buildPrompt assembles the user prompt, reusing a cached copy for the same
// vehicle, item and evidence
func (o *Orchestrator) buildPrompt(q search.Query, title string, score consensus.Score, results []consensus.SourceResult) string {
	key := cache.Key(q.VehicleKey, q.ChunkType, q.Component, title, fingerprint(score.Facts, results))
	if p, ok := o.prompts.Get(key); ok {
		return p
	}

	format := `{"title": string, "content_text": string, "data": {"steps": [string]}}`
	if IsSpecType(q.ChunkType) {
		format = `{"title": string, "content_text": string, "data": {"spec_items": [{"label": string, "value": string, "unit": string}]}}`
	}

	snippets := lo.Map(lo.Slice(results, 0, maxPromptSnippets), func(r consensus.SourceResult, _ int) string {
		return fmt.Sprintf("%s: %s", r.Title, r.Snippet)
	})

	body, _ := json.Marshal(draftPrompt{
		Vehicle:   q.Vehicle(),
		Engine:    q.Engine,
		ChunkType: q.ChunkType,
		Item:      title,
		Facts:     score.Facts,
		Snippets:  snippets,
		Format:    format,
	})
	prompt := string(body)
	o.prompts.Set(key, prompt)
	return prompt
}

// writeDraft asks the oracle for content and falls back to an explicit stub
// when no oracle is configured or the call fails
func (o *Orchestrator) writeDraft(ctx context.Context, q search.Query, title string, score consensus.Score, results []consensus.SourceResult) draft {
	if o.oracle == nil {
		return stubDraft(title, score)
	}

	completion, err := o.oracle.Complete(ctx, openai.CompletionRequest{
		SystemPrompt: draftSystemPrompt,
		UserPrompt:   o.buildPrompt(q, title, score, results),
		Temperature:  0.2,
		MaxTokens:    1500,
		JSONMode:     true,
	})
	if err != nil {
		o.logger.Warn("oracle draft failed, storing stub",
			zap.String("vehicle_key", q.VehicleKey),
			zap.String("chunk_type", q.ChunkType),
			zap.Error(err))
		return stubDraft(title, score)
	}

	cost := float64(completion.PromptTokens)/1000*promptCostPer1K +
		float64(completion.CompletionTokens)/1000*completionCostPer1K

	var d draft
	if err := json.Unmarshal([]byte(completion.Content), &d); err != nil || len(d.Data) == 0 {
		o.logger.Warn("oracle returned unusable draft, storing stub",
			zap.String("vehicle_key", q.VehicleKey),
			zap.String("chunk_type", q.ChunkType))
		stub := stubDraft(title, score)
		stub.Cost = cost
		return stub
	}
	if strings.TrimSpace(d.Title) == "" {
		d.Title = title
	}
	d.Cost = cost
	return d
}

// stubDraft is placeholder content the guard accepts as an explicit stub
func stubDraft(title string, score consensus.Score) draft {
	msg := fmt.Sprintf("%s: content pending verification.", title)
	data := map[string]any{"message": msg}
	if len(score.Facts) > 0 {
		data["facts"] = score.Facts
	}
	return draft{
		Title:       title,
		ContentText: msg,
		Data:        data,
		Stub:        true,
	}
}

// fingerprint hashes the evidence a prompt is built from
func fingerprint(facts []string, results []consensus.SourceResult) string {
	h := fnv.New64a()
	for _, f := range facts {
		_, _ = h.Write([]byte(f))
		_, _ = h.Write([]byte{0})
	}
	for _, r := range results {
		_, _ = h.Write([]byte(r.URL))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
