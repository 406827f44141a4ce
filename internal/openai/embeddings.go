// Package openai adapts OpenAI-compatible endpoints for chunk embeddings and
// the generative oracle used by drafting and QA.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the model used for chunk embeddings
	DefaultEmbeddingModel = openai.AdaEmbeddingV2
	// DefaultEmbeddingDimensions matches the chunks.embedding column
	DefaultEmbeddingDimensions = 1536
	// maxEmbeddingRunes keeps chunk text well under the model's token window
	maxEmbeddingRunes = 24000
)

var (
	// ErrEmptyText is returned when there is nothing to embed
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when the model answers with another width
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
)

// EmbeddingAPI creates one embedding per call
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

type embeddingAdapter struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func (a *embeddingAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.model,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}
	return resp.Data[0].Embedding, nil
}

// EmbeddingConfig configures an Embedder
type EmbeddingConfig struct {
	APIKey     string
	BaseURL    string
	Model      openai.EmbeddingModel
	Dimensions int
}

// Embedder turns chunk text into vectors for similarity lookup
type Embedder struct {
	api        EmbeddingAPI
	dimensions int
}

// NewEmbedder creates an Embedder for an OpenAI-compatible endpoint
func NewEmbedder(cfg EmbeddingConfig) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return NewEmbedderWithAPI(&embeddingAdapter{client: openai.NewClientWithConfig(clientCfg), model: model}, cfg.Dimensions)
}

// NewEmbedderWithAPI creates an Embedder over an existing EmbeddingAPI
func NewEmbedderWithAPI(api EmbeddingAPI, dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &Embedder{api: api, dimensions: dimensions}
}

// ChunkText joins a chunk's title and body into the embedded text
func ChunkText(title, content string) string {
	text := strings.TrimSpace(strings.TrimSpace(title) + "\n\n" + strings.TrimSpace(content))
	if utf8.RuneCountInString(text) > maxEmbeddingRunes {
		text = string([]rune(text)[:maxEmbeddingRunes])
	}
	return text
}

// Embed generates the embedding for text
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	vec, err := e.api.CreateEmbeddings(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongDimensions, len(vec), e.dimensions)
	}
	return vec, nil
}
