package admin

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/servicechunks/internal/logger"
)

// CycleCmd returns the cycle command
func CycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one QA cycle in-process and exit",
		Long:  "Run the QA review, repair and report phases once, persist the scheduler checkpoint and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := setup("stderr")
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger.L())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.scheduler.RunCycle(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
}
