package repository

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/domain"
)

type chunkUpserter interface {
	Upsert(ctx context.Context, c *domain.Chunk) (*domain.Chunk, error)
	UpsertMany(ctx context.Context, chunks []*domain.Chunk) ([]*domain.Chunk, error)
}

// BatchWriter accumulates chunks and writes them in one round-trip. When the
// batch fails it retries each chunk on its own and skips the ones that fail.
type BatchWriter struct {
	mu      sync.Mutex
	pending []*domain.Chunk
	store   chunkUpserter
	logger  *zap.Logger
}

func NewBatchWriter(store chunkUpserter, logger *zap.Logger) *BatchWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchWriter{store: store, logger: logger}
}

func (w *BatchWriter) Add(c *domain.Chunk) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, c)
}

func (w *BatchWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Flush writes and clears everything added so far and returns the saved chunks
func (w *BatchWriter) Flush(ctx context.Context) []*domain.Chunk {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	saved, err := w.store.UpsertMany(ctx, batch)
	if err == nil {
		w.logger.Debug("batch flushed", zap.Int("count", len(saved)))
		return saved
	}

	w.logger.Warn("batch upsert failed, falling back to single writes", zap.Int("count", len(batch)), zap.Error(err))
	saved = make([]*domain.Chunk, 0, len(batch))
	for _, c := range batch {
		s, err := w.store.Upsert(ctx, c)
		if err != nil {
			w.logger.Error("chunk write failed",
				zap.String("chunk_key", c.Key().String()),
				zap.Error(err))
			continue
		}
		saved = append(saved, s)
	}
	return saved
}
