// Package search holds the source searchers the generation orchestrator fans
// out to. Each searcher wraps one external provider behind Searcher.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"

	"github.com/cloo-solutions/servicechunks/internal/consensus"
	"github.com/cloo-solutions/servicechunks/internal/domain"
)

// Depth selects the per-call timeout a searcher runs under
type Depth int

const (
	// Fast sources return metadata quickly
	Fast Depth = iota
	// Deep sources run several queries per request
	Deep
)

func (d Depth) String() string {
	if d == Deep {
		return "deep"
	}
	return "fast"
}

// Query describes what to look up for one chunk
type Query struct {
	VehicleKey string
	Year       string
	Make       string
	Model      string
	Engine     string
	ChunkType  string
	Component  string
}

// NewQuery splits a year_make_model_engine vehicle key into its parts
func NewQuery(vehicleKey, chunkType, component string) Query {
	q := Query{VehicleKey: vehicleKey, ChunkType: chunkType, Component: component}
	parts := strings.Split(strings.ToLower(vehicleKey), "_")
	if len(parts) > 0 {
		q.Year = parts[0]
	}
	if len(parts) > 1 {
		q.Make = parts[1]
	}
	if len(parts) > 2 {
		q.Model = parts[2]
	}
	if len(parts) > 3 {
		q.Engine = strings.Join(parts[3:], " ")
	}
	return q
}

// Vehicle renders "year make model" for search terms
func (q Query) Vehicle() string {
	return strings.TrimSpace(strings.Join([]string{q.Year, q.Make, q.Model}, " "))
}

// Concern is the free-text subject of the query
func (q Query) Concern() string {
	if q.Component != "" {
		return q.Component
	}
	return strings.ReplaceAll(q.ChunkType, "_", " ")
}

// Response is a searcher's output
type Response struct {
	Results []consensus.SourceResult
	Cost    float64
}

// Searcher is one external source of evidence
type Searcher interface {
	Name() string
	Depth() Depth
	Search(ctx context.Context, q Query) (*Response, error)
}

// statusError is a non-2xx provider response
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// checkStatus turns a failed response into an error, marking client errors
// other than 429 as permanent so they are not retried
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return err
	}
	return backoff.Permanent(err)
}

// unavailable wraps err as a collaborator failure of source
func unavailable(source string, err error) error {
	var ce *domain.CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &domain.CollaboratorError{Collaborator: source, Err: err}
}

// CleanSnippet strips provider markup from a snippet and collapses whitespace
func CleanSnippet(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Dedupe keeps the first result for every URL and drops results without one
func Dedupe(results []consensus.SourceResult) []consensus.SourceResult {
	withURL := lo.Filter(results, func(r consensus.SourceResult, _ int) bool {
		return r.URL != ""
	})
	return lo.UniqBy(withURL, func(r consensus.SourceResult) string {
		return r.URL
	})
}
