package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/config"
	"github.com/cloo-solutions/servicechunks/internal/database"
	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/logger"
	"github.com/cloo-solutions/servicechunks/internal/pagination"
	"github.com/cloo-solutions/servicechunks/internal/repository"
)

const exportPageSize = 100

func recordFor(c *domain.Chunk) chunkRecord {
	return chunkRecord{
		VehicleKey:           c.VehicleKey,
		ContentID:            c.ContentID,
		ChunkType:            c.ChunkType,
		Title:                c.Title,
		ContentText:          c.ContentText,
		Data:                 c.Data,
		Sources:              c.Sources,
		VerificationStatus:   string(c.VerificationStatus),
		VerifiedStatus:       string(c.VerifiedStatus),
		QAStatus:             string(c.QAStatus),
		QANotes:              c.QANotes,
		SourceConfidence:     c.SourceConfidence,
		ConsensusScore:       c.ConsensusScore,
		PromotionCount:       c.PromotionCount,
		QAPassCount:          c.QAPassCount,
		RegenerationAttempts: c.RegenerationAttempts,
		LastQAReviewedAt:     c.LastQAReviewedAt,
		VerifiedAt:           c.VerifiedAt,
	}
}

// ExportCmd returns the export command
func ExportCmd() *cobra.Command {
	var (
		out   string
		types []string
	)

	cmd := &cobra.Command{
		Use:   "export <vehicle_key>...",
		Short: "Write vehicles' chunks as JSON Lines",
		Long:  "Write every chunk of the given vehicles as JSON Lines, in the format import reads.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup("stderr")
			if err != nil {
				return err
			}
			defer cleanup()

			w := cmd.OutOrStdout()
			if out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create export: %w", err)
				}
				defer f.Close()
				w = f
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

			lister := repository.NewChunkRepository(pool)
			for _, vehicleKey := range args {
				n, err := exportVehicle(ctx, lister, w, vehicleKey, types)
				if err != nil {
					return err
				}
				logger.Info("exported vehicle", zap.String("vehicle_key", vehicleKey), zap.Int("chunks", n))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output file, - for stdout")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only these chunk types")
	return cmd
}

type chunkLister interface {
	ListByVehicle(ctx context.Context, vehicleKey string, chunkTypes []string, cursor *pagination.Cursor, limit int) (*pagination.PageResult[*domain.Chunk], error)
}

// exportVehicle pages through one vehicle's chunks and writes one record per line
func exportVehicle(ctx context.Context, lister chunkLister, w io.Writer, vehicleKey string, types []string) (int, error) {
	enc := json.NewEncoder(w)
	var cursor *pagination.Cursor
	written := 0
	for {
		page, err := lister.ListByVehicle(ctx, vehicleKey, types, cursor, exportPageSize)
		if err != nil {
			return written, fmt.Errorf("failed to list chunks for %s: %w", vehicleKey, err)
		}
		for _, c := range page.Items {
			if err := enc.Encode(recordFor(c)); err != nil {
				return written, fmt.Errorf("failed to write export: %w", err)
			}
			written++
		}
		if !page.HasMore || page.Cursor == "" {
			return written, nil
		}
		if cursor, err = pagination.DecodeCursor(page.Cursor); err != nil {
			return written, err
		}
	}
}

// openPool connects without wiring the rest of the app
func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL, MaxConns: 4})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, nil
}
