package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/servicechunks/internal/domain"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockEmbeddingChunkRepository is a mock implementation of EmbeddingChunkRepository
type MockEmbeddingChunkRepository struct {
	mock.Mock
}

func (m *MockEmbeddingChunkRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]*domain.Chunk, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Chunk), args.Error(1)
}

func (m *MockEmbeddingChunkRepository) SetEmbedding(ctx context.Context, id string, vector []float32) error {
	args := m.Called(ctx, id, vector)
	return args.Error(0)
}

// MockEmbedder is a mock implementation of Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// TestWorker_StartStop tests the worker start and stop functionality
func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker("embedding", mockProcessor, 100*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(250 * time.Millisecond)

	worker.Stop()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(errors.New("transient"))

	worker := NewWorker("embedding", mockProcessor, 100*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(150 * time.Millisecond)

	cancel()
	wg.Wait()

	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func TestEmbeddingWorker_ProcessJobs_NothingMissing(t *testing.T) {
	mockRepo := new(MockEmbeddingChunkRepository)
	mockEmbedder := new(MockEmbedder)

	mockRepo.On("ListMissingEmbeddings", mock.Anything, DefaultEmbeddingBatch).Return([]*domain.Chunk{}, nil)

	worker := NewEmbeddingWorker(mockRepo, mockEmbedder, nil)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockEmbedder.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestEmbeddingWorker_ProcessJobs_StoresVectors(t *testing.T) {
	mockRepo := new(MockEmbeddingChunkRepository)
	mockEmbedder := new(MockEmbedder)

	chunks := []*domain.Chunk{
		{ID: "chunk-1", Title: "Oil change", ContentText: "Drain and refill."},
		{ID: "chunk-2", Title: "Wiper blades", ContentText: "Lift the arm."},
	}
	vec := []float32{0.1, 0.2}

	mockRepo.On("ListMissingEmbeddings", mock.Anything, DefaultEmbeddingBatch).Return(chunks, nil)
	mockEmbedder.On("Embed", mock.Anything, "Oil change\n\nDrain and refill.").Return(vec, nil)
	mockEmbedder.On("Embed", mock.Anything, "Wiper blades\n\nLift the arm.").Return(nil, errors.New("rate limited"))
	mockRepo.On("SetEmbedding", mock.Anything, "chunk-1", vec).Return(nil)

	worker := NewEmbeddingWorker(mockRepo, mockEmbedder, nil)
	err := worker.ProcessJobs(context.Background())

	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "SetEmbedding", mock.Anything, "chunk-2", mock.Anything)
}

func TestEmbeddingWorker_ProcessJobs_ListError(t *testing.T) {
	mockRepo := new(MockEmbeddingChunkRepository)

	mockRepo.On("ListMissingEmbeddings", mock.Anything, DefaultEmbeddingBatch).Return(nil, errors.New("database error"))

	worker := NewEmbeddingWorker(mockRepo, new(MockEmbedder), nil)
	err := worker.ProcessJobs(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch chunks without embeddings")
}
