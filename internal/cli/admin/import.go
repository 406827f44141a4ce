package admin

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/logger"
	"github.com/cloo-solutions/servicechunks/internal/repository"
)

const importFlushSize = 200

// chunkRecord is one line of a chunk export (JSON Lines)
type chunkRecord struct {
	VehicleKey           string         `json:"vehicle_key"`
	ContentID            string         `json:"content_id"`
	ChunkType            string         `json:"chunk_type"`
	Title                string         `json:"title"`
	ContentText          string         `json:"content_text"`
	Data                 map[string]any `json:"data"`
	Sources              []string       `json:"sources"`
	VerificationStatus   string         `json:"verification_status"`
	VerifiedStatus       string         `json:"verified_status"`
	QAStatus             string         `json:"qa_status"`
	QANotes              string         `json:"qa_notes"`
	SourceConfidence     float64        `json:"source_confidence"`
	ConsensusScore       *float64       `json:"consensus_score"`
	PromotionCount       int            `json:"promotion_count"`
	QAPassCount          int            `json:"qa_pass_count"`
	RegenerationAttempts int            `json:"regeneration_attempts"`
	LastQAReviewedAt     *time.Time     `json:"last_qa_reviewed_at"`
	VerifiedAt           *time.Time     `json:"verified_at"`
}

// toChunk converts a record, defaulting absent lifecycle fields to a fresh
// unverified chunk
func (r chunkRecord) toChunk() (*domain.Chunk, error) {
	c := &domain.Chunk{
		VehicleKey:           r.VehicleKey,
		ContentID:            r.ContentID,
		ChunkType:            r.ChunkType,
		TemplateType:         domain.TemplateTypeFor(r.VehicleKey),
		Title:                r.Title,
		ContentText:          r.ContentText,
		Data:                 r.Data,
		Sources:              r.Sources,
		VerifiedStatus:       domain.VerifiedStatusUnverified,
		QAStatus:             domain.QAStatusPending,
		QANotes:              r.QANotes,
		SourceConfidence:     r.SourceConfidence,
		ConsensusScore:       r.ConsensusScore,
		PromotionCount:       r.PromotionCount,
		QAPassCount:          r.QAPassCount,
		RegenerationAttempts: r.RegenerationAttempts,
		LastQAReviewedAt:     r.LastQAReviewedAt,
		VerifiedAt:           r.VerifiedAt,
	}

	var err error
	if r.VerifiedStatus != "" {
		if c.VerifiedStatus, err = domain.ParseVerifiedStatus(r.VerifiedStatus); err != nil {
			return nil, err
		}
	}
	if r.QAStatus != "" {
		if c.QAStatus, err = domain.ParseQAStatus(r.QAStatus); err != nil {
			return nil, err
		}
	}
	c.VerificationStatus = domain.LegacyStatusFor(c.VerifiedStatus)
	if r.VerificationStatus != "" && c.VerifiedStatus == domain.VerifiedStatusUnverified {
		c.VerificationStatus = domain.NormalizeLegacyStatus(r.VerificationStatus)
	}
	if c.Data == nil {
		c.Data = map[string]any{}
	}

	if err := domain.ValidateChunk(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ImportCmd returns the import command
func ImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replay a chunk export into the store",
		Long: `Replay a JSON Lines chunk export (one chunk per line, "-" for stdin).
Records are written in batches without running the contamination guard, so
only replay exports of content that was already stored once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup("stderr")
			if err != nil {
				return err
			}
			defer cleanup()

			in := io.Reader(os.Stdin)
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open export: %w", err)
				}
				defer f.Close()
				in = f
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			pool, err := openPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			writer := repository.NewBatchWriter(repository.NewChunkRepository(pool), logger.L().Named("import"))
			stats, err := replay(ctx, in, writer, logger.L())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "read %d, invalid %d, written %d\n", stats.read, stats.invalid, stats.written)
			return nil
		},
	}
	return cmd
}

type replayStats struct {
	read    int
	invalid int
	written int
}

type chunkBatcher interface {
	Add(c *domain.Chunk)
	Len() int
	Flush(ctx context.Context) []*domain.Chunk
}

// replay streams records into the batcher, flushing every importFlushSize
// chunks. Malformed and invalid lines are logged and skipped.
func replay(ctx context.Context, in io.Reader, batcher chunkBatcher, log *zap.Logger) (replayStats, error) {
	var stats replayStats
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		stats.read++

		var rec chunkRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			stats.invalid++
			log.Warn("skipping malformed line", zap.Int("line", line), zap.Error(err))
			continue
		}
		c, err := rec.toChunk()
		if err != nil {
			stats.invalid++
			log.Warn("skipping invalid chunk", zap.Int("line", line), zap.Error(err))
			continue
		}

		batcher.Add(c)
		if batcher.Len() >= importFlushSize {
			stats.written += len(batcher.Flush(ctx))
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("failed to read export: %w", err)
	}
	stats.written += len(batcher.Flush(ctx))
	return stats, nil
}
