package jobs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/openai"
)

// DefaultEmbeddingBatch is how many chunks one pass embeds
const DefaultEmbeddingBatch = 20

// EmbeddingChunkRepository defines the chunk operations the embedding worker needs
type EmbeddingChunkRepository interface {
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*domain.Chunk, error)
	SetEmbedding(ctx context.Context, id string, vector []float32) error
}

// Embedder turns text into a vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingWorker embeds chunks stored without an embedding
type EmbeddingWorker struct {
	repo     EmbeddingChunkRepository
	embedder Embedder
	batch    int
	logger   *zap.Logger
}

// NewEmbeddingWorker creates a new EmbeddingWorker instance
func NewEmbeddingWorker(repo EmbeddingChunkRepository, embedder Embedder, logger *zap.Logger) *EmbeddingWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingWorker{
		repo:     repo,
		embedder: embedder,
		batch:    DefaultEmbeddingBatch,
		logger:   logger,
	}
}

// ProcessJobs implements the JobProcessor interface. A chunk that fails to
// embed is logged and picked up again on the next pass.
func (w *EmbeddingWorker) ProcessJobs(ctx context.Context) error {
	chunks, err := w.repo.ListMissingEmbeddings(ctx, w.batch)
	if err != nil {
		return fmt.Errorf("failed to fetch chunks without embeddings: %w", err)
	}

	if len(chunks) == 0 {
		return nil
	}

	w.logger.Debug("embedding chunks", zap.Int("count", len(chunks)))

	for _, c := range chunks {
		if err := w.embed(ctx, c); err != nil {
			w.logger.Warn("failed to embed chunk", zap.String("chunk_id", c.ID), zap.Error(err))
		}
	}

	return nil
}

func (w *EmbeddingWorker) embed(ctx context.Context, c *domain.Chunk) error {
	vec, err := w.embedder.Embed(ctx, openai.ChunkText(c.Title, c.ContentText))
	if err != nil {
		return err
	}
	if err := w.repo.SetEmbedding(ctx, c.ID, vec); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}
