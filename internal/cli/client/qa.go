package client

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// QAResult is one reviewed chunk
type QAResult struct {
	ChunkID    string `json:"chunk_id"`
	VehicleKey string `json:"vehicle_key"`
	ContentID  string `json:"content_id"`
	OldStatus  string `json:"old_status"`
	NewStatus  string `json:"new_status"`
	Notes      string `json:"notes"`
	Updated    bool   `json:"updated"`
}

type QARun struct {
	Processed int        `json:"processed"`
	Updated   int        `json:"updated"`
	Results   []QAResult `json:"results"`
}

type RepairDetail struct {
	ChunkID string `json:"chunk_id"`
	Status  string `json:"status"`
	Reason  string `json:"reason"`
}

type RepairSummary struct {
	TotalProcessed int            `json:"total_processed"`
	Repaired       int            `json:"repaired"`
	Skipped        int            `json:"skipped"`
	Failed         int            `json:"failed"`
	Details        []RepairDetail `json:"details"`
}

type SchedulerHealth struct {
	IsRunning           bool       `json:"is_running"`
	LastRun             *time.Time `json:"last_run"`
	LastRunStatus       string     `json:"last_run_status"`
	NextScheduledRun    *time.Time `json:"next_scheduled_run"`
	CurrentlyProcessing bool       `json:"currently_processing"`
}

type QAStats struct {
	Pending             int64 `json:"pending"`
	Pass                int64 `json:"pass"`
	Fail                int64 `json:"fail"`
	Regenerated         int64 `json:"regenerated"`
	VerifiedTotal       int64 `json:"verified_total"`
	CandidateTotal      int64 `json:"candidate_total"`
	BannedTotal         int64 `json:"banned_total"`
	ManualRequiredTotal int64 `json:"manual_required_total"`
	QuarantinedTotal    int64 `json:"quarantined_total"`
	NewlyGeneratedToday int64 `json:"newly_generated_today"`
	Total               int64 `json:"total"`
}

type DailyReport struct {
	ReportDate time.Time `json:"report_date"`
	Stats      QAStats   `json:"stats"`
	Summary    string    `json:"summary"`
	ArchiveKey string    `json:"archive_key,omitempty"`
}

type LiveMetrics struct {
	Status               string `json:"status"`
	CurrentCycleProgress string `json:"current_cycle_progress"`
	PendingItems         int64  `json:"pending_items"`
	NextScheduledRun     string `json:"next_scheduled_run"`
	QuarantinedTotal     int64  `json:"quarantined_total"`
	ManualReviewRequired int64  `json:"manual_review_required"`
}

// QACmd groups the QA operations
func QACmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qa",
		Short: "Run and inspect chunk QA",
	}

	cmd.AddCommand(qaRunCmd())
	cmd.AddCommand(qaRepairCmd())
	cmd.AddCommand(qaCycleCmd())
	cmd.AddCommand(qaHealthCmd())
	cmd.AddCommand(qaReportCmd())
	cmd.AddCommand(qaLiveCmd())

	return cmd
}

func qaRunCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Review one batch of pending chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runQARun(cmd.Context(), api, cmd.OutOrStdout(), batchSize, wantsJSON(cmd.Flags()))
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 10, "Chunks to review (1-50)")
	return cmd
}

func runQARun(ctx context.Context, api *APIClient, out io.Writer, batchSize int, outputJSON bool) error {
	resp, err := api.Post(ctx, fmt.Sprintf("/qa/run?batch_size=%d", batchSize), nil)
	if err != nil {
		return fmt.Errorf("failed to run qa: %w", err)
	}

	var run QARun
	if err := decode(resp, &run); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out, run)
	}

	fmt.Fprintf(out, "Processed %d, updated %d\n", run.Processed, run.Updated)
	if len(run.Results) == 0 {
		return nil
	}
	tw := newTable(out)
	fmt.Fprintln(tw, "CHUNK\tVEHICLE\tCONTENT\tSTATUS\tNOTES")
	for _, r := range run.Results {
		status := r.NewStatus
		if !r.Updated {
			status += " (not written)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ChunkID, r.VehicleKey, r.ContentID, status, r.Notes)
	}
	return tw.Flush()
}

func qaRepairCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "repair [chunk_id...]",
		Short: "Regenerate failed chunks",
		Long:  "Regenerates the given chunks, or the next batch of failed chunks when no ids are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runQARepair(cmd.Context(), api, cmd.OutOrStdout(), args, batchSize, wantsJSON(cmd.Flags()))
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 10, "Failed chunks to repair when no ids are given (1-50)")
	return cmd
}

func runQARepair(ctx context.Context, api *APIClient, out io.Writer, ids []string, batchSize int, outputJSON bool) error {
	body := map[string]any{}
	if len(ids) > 0 {
		body["chunk_ids"] = ids
	}
	resp, err := api.Post(ctx, fmt.Sprintf("/qa/repair?batch_size=%d", batchSize), body)
	if err != nil {
		return fmt.Errorf("failed to repair chunks: %w", err)
	}

	var summary RepairSummary
	if err := decode(resp, &summary); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out, summary)
	}

	fmt.Fprintf(out, "Processed %d: repaired %d, skipped %d, failed %d\n",
		summary.TotalProcessed, summary.Repaired, summary.Skipped, summary.Failed)
	for _, d := range summary.Details {
		if d.Reason != "" {
			fmt.Fprintf(out, "  %s %s: %s\n", d.ChunkID, d.Status, d.Reason)
		}
	}
	return nil
}

func qaCycleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Start a full QA cycle in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			if _, err := api.Post(cmd.Context(), "/qa/cycle", nil); err != nil {
				return fmt.Errorf("failed to start cycle: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "QA cycle started")
			return nil
		},
	}
}

func qaHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show scheduler health",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runQAHealth(cmd.Context(), api, cmd.OutOrStdout(), wantsJSON(cmd.Flags()))
		},
	}
}

func runQAHealth(ctx context.Context, api *APIClient, out io.Writer, outputJSON bool) error {
	resp, err := api.Get(ctx, "/qa/health")
	if err != nil {
		return fmt.Errorf("failed to get scheduler health: %w", err)
	}

	var h SchedulerHealth
	if err := decode(resp, &h); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out, h)
	}

	fmt.Fprintf(out, "Scheduler running: %t\n", h.IsRunning)
	fmt.Fprintf(out, "Cycle in progress: %t\n", h.CurrentlyProcessing)
	fmt.Fprintf(out, "Last run: %s (%s)\n", formatTime(h.LastRun), h.LastRunStatus)
	fmt.Fprintf(out, "Next run: %s\n", formatTime(h.NextScheduledRun))
	return nil
}

func qaReportCmd() *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the latest daily QA report",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runQAReport(cmd.Context(), api, cmd.OutOrStdout(), history, wantsJSON(cmd.Flags()))
		},
	}

	cmd.Flags().IntVar(&history, "history", 0, "List the last N reports instead of the latest one")
	return cmd
}

func runQAReport(ctx context.Context, api *APIClient, out io.Writer, history int, outputJSON bool) error {
	if history > 0 {
		resp, err := api.Get(ctx, fmt.Sprintf("/qa/reports?limit=%d", history))
		if err != nil {
			return fmt.Errorf("failed to list reports: %w", err)
		}
		var reports []DailyReport
		if err := decode(resp, &reports); err != nil {
			return err
		}
		if outputJSON {
			return printJSON(out, reports)
		}
		tw := newTable(out)
		fmt.Fprintln(tw, "DATE\tSUMMARY")
		for _, r := range reports {
			fmt.Fprintf(tw, "%s\t%s\n", r.ReportDate.Format(time.DateOnly), r.Summary)
		}
		return tw.Flush()
	}

	resp, err := api.Get(ctx, "/qa/report")
	if err != nil {
		return fmt.Errorf("failed to get report: %w", err)
	}
	var report DailyReport
	if err := decode(resp, &report); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out, report)
	}

	s := report.Stats
	fmt.Fprintf(out, "Report for %s\n", report.ReportDate.Format(time.DateOnly))
	fmt.Fprintf(out, "%s\n\n", report.Summary)
	tw := newTable(out)
	fmt.Fprintf(tw, "pending\t%d\n", s.Pending)
	fmt.Fprintf(tw, "pass\t%d\n", s.Pass)
	fmt.Fprintf(tw, "fail\t%d\n", s.Fail)
	fmt.Fprintf(tw, "regenerated\t%d\n", s.Regenerated)
	fmt.Fprintf(tw, "verified\t%d\n", s.VerifiedTotal)
	fmt.Fprintf(tw, "candidate\t%d\n", s.CandidateTotal)
	fmt.Fprintf(tw, "banned\t%d\n", s.BannedTotal)
	fmt.Fprintf(tw, "manual review\t%d\n", s.ManualRequiredTotal)
	fmt.Fprintf(tw, "quarantined\t%d\n", s.QuarantinedTotal)
	fmt.Fprintf(tw, "generated today\t%d\n", s.NewlyGeneratedToday)
	fmt.Fprintf(tw, "total\t%d\n", s.Total)
	return tw.Flush()
}

func qaLiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Show live QA metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			resp, err := api.Get(cmd.Context(), "/qa/metrics/live")
			if err != nil {
				return fmt.Errorf("failed to get live metrics: %w", err)
			}
			var live LiveMetrics
			if err := decode(resp, &live); err != nil {
				return err
			}
			if wantsJSON(cmd.Flags()) {
				return printJSON(cmd.OutOrStdout(), live)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status: %s (%s)\n", live.Status, live.CurrentCycleProgress)
			fmt.Fprintf(out, "Pending: %d\n", live.PendingItems)
			fmt.Fprintf(out, "Quarantined: %d\n", live.QuarantinedTotal)
			fmt.Fprintf(out, "Manual review: %d\n", live.ManualReviewRequired)
			fmt.Fprintf(out, "Next run: %s\n", live.NextScheduledRun)
			return nil
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.RFC3339)
}
