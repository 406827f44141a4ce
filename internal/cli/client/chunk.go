package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Chunk is a stored service chunk as returned by the API
type Chunk struct {
	ID                   string         `json:"id"`
	VehicleKey           string         `json:"vehicle_key"`
	ContentID            string         `json:"content_id"`
	ChunkType            string         `json:"chunk_type"`
	TemplateType         string         `json:"template_type"`
	Title                string         `json:"title"`
	ContentText          string         `json:"content_text"`
	Data                 map[string]any `json:"data"`
	Sources              []string       `json:"sources"`
	VerificationStatus   string         `json:"verification_status"`
	VerifiedStatus       string         `json:"verified_status"`
	QAStatus             string         `json:"qa_status"`
	QANotes              string         `json:"qa_notes,omitempty"`
	Visibility           string         `json:"visibility"`
	SourceConfidence     float64        `json:"source_confidence"`
	ConsensusScore       *float64       `json:"consensus_score,omitempty"`
	PromotionCount       int            `json:"promotion_count"`
	QAPassCount          int            `json:"qa_pass_count"`
	RegenerationAttempts int            `json:"regeneration_attempts"`
	Revision             int64          `json:"revision"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

type ChunkPage struct {
	Items   []*Chunk `json:"items"`
	Cursor  string   `json:"cursor,omitempty"`
	HasMore bool     `json:"has_more"`
}

type SearchHit struct {
	Chunk    *Chunk  `json:"chunk"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet"`
	Semantic bool    `json:"semantic"`
	Lexical  bool    `json:"lexical"`
}

type SearchResult struct {
	Query string       `json:"query"`
	Mode  string       `json:"mode"`
	Hits  []*SearchHit `json:"hits"`
}

type GenerateRequest struct {
	VehicleKey   string `json:"vehicle_key"`
	ContentID    string `json:"content_id"`
	ChunkType    string `json:"chunk_type"`
	Title        string `json:"title,omitempty"`
	Component    string `json:"component,omitempty"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}

type GenerateResult struct {
	Chunk  *Chunk  `json:"chunk"`
	Reused bool    `json:"reused"`
	Stub   bool    `json:"stub"`
	Cost   float64 `json:"cost"`
}

type Baseline struct {
	VehicleKey string            `json:"vehicle_key"`
	Statuses   map[string]string `json:"statuses"`
	Missing    []string          `json:"missing"`
	Complete   bool              `json:"complete"`
}

// ChunkCmd groups the chunk read operations
func ChunkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunk",
		Short: "Read stored chunks",
	}

	cmd.AddCommand(chunkGetCmd())
	cmd.AddCommand(chunkListCmd())
	cmd.AddCommand(chunkBaselineCmd())
	cmd.AddCommand(chunkSearchCmd())

	return cmd
}

func chunkGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <chunk_id>",
		Short:   "Show one chunk",
		Aliases: []string{"view"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runChunkGet(cmd.Context(), api, cmd.OutOrStdout(), args[0], wantsJSON(cmd.Flags()))
		},
	}
}

func runChunkGet(ctx context.Context, api *APIClient, out io.Writer, id string, outputJSON bool) error {
	resp, err := api.Get(ctx, "/chunks/"+url.PathEscape(id))
	if err != nil {
		return fmt.Errorf("failed to get chunk: %w", err)
	}

	var c Chunk
	if err := decode(resp, &c); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out, c)
	}

	fmt.Fprintf(out, "Title: %s\n", c.Title)
	fmt.Fprintf(out, "Key: %s/%s/%s\n", c.VehicleKey, c.ContentID, c.ChunkType)
	fmt.Fprintf(out, "Lifecycle: %s (qa %s, legacy %s)\n", c.VerifiedStatus, c.QAStatus, c.VerificationStatus)
	fmt.Fprintf(out, "Visibility: %s\n", c.Visibility)
	if c.ConsensusScore != nil {
		fmt.Fprintf(out, "Consensus: %.2f\n", *c.ConsensusScore)
	}
	fmt.Fprintf(out, "Promotions: %d, QA passes: %d, regenerations: %d\n", c.PromotionCount, c.QAPassCount, c.RegenerationAttempts)
	if c.QANotes != "" {
		fmt.Fprintf(out, "QA notes: %s\n", c.QANotes)
	}
	for _, s := range c.Sources {
		fmt.Fprintf(out, "Source: %s\n", s)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "--- Content ---")
	fmt.Fprintln(out, c.ContentText)
	return nil
}

func chunkListCmd() *cobra.Command {
	var (
		types  []string
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list <vehicle_key>",
		Short: "List a vehicle's chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runChunkList(cmd.Context(), api, cmd.OutOrStdout(), args[0], types, limit, cursor, wantsJSON(cmd.Flags()))
		},
	}

	cmd.Flags().StringSliceVar(&types, "type", nil, "Only these chunk types")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size (1-100)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Cursor from the previous page")
	return cmd
}

func runChunkList(ctx context.Context, api *APIClient, out io.Writer, vehicleKey string, types []string, limit int, cursor string, outputJSON bool) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if len(types) > 0 {
		q.Set("type", strings.Join(types, ","))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	resp, err := api.Get(ctx, fmt.Sprintf("/vehicles/%s/chunks?%s", url.PathEscape(vehicleKey), q.Encode()))
	if err != nil {
		return fmt.Errorf("failed to list chunks: %w", err)
	}

	var page ChunkPage
	if err := decode(resp, &page); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out, page)
	}

	if len(page.Items) == 0 {
		fmt.Fprintln(out, "No chunks found")
		return nil
	}
	tw := newTable(out)
	fmt.Fprintln(tw, "ID\tCONTENT\tTYPE\tLIFECYCLE\tQA\tVISIBILITY")
	for _, c := range page.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.ID, c.ContentID, c.ChunkType, c.VerifiedStatus, c.QAStatus, c.Visibility)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if page.HasMore {
		fmt.Fprintf(out, "\nMore results: --cursor %s\n", page.Cursor)
	}
	return nil
}

func chunkBaselineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "baseline <vehicle_key> <content_id...>",
		Short: "Check which baseline content a vehicle has",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runChunkBaseline(cmd.Context(), api, cmd.OutOrStdout(), args[0], args[1:], wantsJSON(cmd.Flags()))
		},
	}
}

func runChunkBaseline(ctx context.Context, api *APIClient, out io.Writer, vehicleKey string, contentIDs []string, outputJSON bool) error {
	resp, err := api.Post(ctx, fmt.Sprintf("/vehicles/%s/baseline", url.PathEscape(vehicleKey)),
		map[string]any{"content_ids": contentIDs})
	if err != nil {
		return fmt.Errorf("failed to check baseline: %w", err)
	}

	var b Baseline
	if err := decode(resp, &b); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out, b)
	}

	ids := make([]string, 0, len(b.Statuses))
	for id := range b.Statuses {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := newTable(out)
	for _, id := range ids {
		fmt.Fprintf(tw, "%s\t%s\n", id, b.Statuses[id])
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if b.Complete {
		fmt.Fprintln(out, "Baseline complete")
	} else {
		fmt.Fprintf(out, "Missing %d of %d\n", len(b.Missing), len(contentIDs))
	}
	return nil
}

func chunkSearchCmd() *cobra.Command {
	var (
		types []string
		mode  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search <vehicle_key> <query...>",
		Short: "Search a vehicle's readable chunks",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			return runChunkSearch(cmd.Context(), api, cmd.OutOrStdout(), args[0], strings.Join(args[1:], " "), types, mode, limit, wantsJSON(cmd.Flags()))
		},
	}

	cmd.Flags().StringSliceVar(&types, "type", nil, "Only these chunk types")
	cmd.Flags().StringVar(&mode, "mode", "hybrid", "hybrid, semantic or lexical")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum hits (1-50)")
	return cmd
}

func runChunkSearch(ctx context.Context, api *APIClient, out io.Writer, vehicleKey, query string, types []string, mode string, limit int, outputJSON bool) error {
	q := url.Values{}
	q.Set("q", query)
	q.Set("mode", mode)
	q.Set("limit", strconv.Itoa(limit))
	if len(types) > 0 {
		q.Set("type", strings.Join(types, ","))
	}

	resp, err := api.Get(ctx, fmt.Sprintf("/vehicles/%s/chunks/search?%s", url.PathEscape(vehicleKey), q.Encode()))
	if err != nil {
		return fmt.Errorf("failed to search chunks: %w", err)
	}

	var res SearchResult
	if err := decode(resp, &res); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out, res)
	}

	if len(res.Hits) == 0 {
		fmt.Fprintln(out, "No matching chunks")
		return nil
	}
	for i, hit := range res.Hits {
		fmt.Fprintf(out, "%d. %s [%s/%s] %s (%.4f)\n", i+1, hit.Chunk.Title, hit.Chunk.ContentID, hit.Chunk.ChunkType, hit.Chunk.VerifiedStatus, hit.Score)
		fmt.Fprintf(out, "   %s\n", hit.Snippet)
	}
	return nil
}

// GenerateCmd creates the generate command
func GenerateCmd() *cobra.Command {
	var req GenerateRequest

	cmd := &cobra.Command{
		Use:   "generate <vehicle_key> <content_id> <chunk_type>",
		Short: "Generate a chunk from search consensus",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			req.VehicleKey, req.ContentID, req.ChunkType = args[0], args[1], args[2]
			return runGenerate(cmd.Context(), api, cmd.OutOrStdout(), req, wantsJSON(cmd.Flags()))
		},
	}

	cmd.Flags().StringVar(&req.Title, "title", "", "Chunk title (defaults to the content id)")
	cmd.Flags().StringVar(&req.Component, "component", "", "Component to search for")
	cmd.Flags().BoolVar(&req.ForceRefresh, "force", false, "Bypass caches and reuse")
	return cmd
}

func runGenerate(ctx context.Context, api *APIClient, out io.Writer, req GenerateRequest, outputJSON bool) error {
	resp, err := api.Post(ctx, "/chunks/generate", req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
			return fmt.Errorf("content rejected (%s): %s", apiErr.Fields["rule"], apiErr.Message)
		}
		return fmt.Errorf("failed to generate chunk: %w", err)
	}

	var res GenerateResult
	if err := decode(resp, &res); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out, res)
	}

	switch {
	case res.Reused:
		fmt.Fprintf(out, "Reused existing chunk %s\n", res.Chunk.ID)
	case res.Stub:
		fmt.Fprintf(out, "Stored stub chunk %s (no usable draft)\n", res.Chunk.ID)
	default:
		fmt.Fprintf(out, "Generated chunk %s\n", res.Chunk.ID)
	}
	fmt.Fprintf(out, "Cost: $%.4f\n", res.Cost)
	return nil
}
