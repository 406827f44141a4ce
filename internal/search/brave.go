package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cloo-solutions/servicechunks/internal/consensus"
	"github.com/cloo-solutions/servicechunks/internal/metrics"
)

const (
	// DefaultBraveURL is the Brave web search API root
	DefaultBraveURL = "https://api.search.brave.com/res/v1"

	braveCostPerQuery = 0.001
	braveResultCount  = 10
)

// BraveConfig configures the Brave searcher
type BraveConfig struct {
	APIKey     string
	BaseURL    string
	RatePerSec float64
	MaxRetries uint64
}

// Brave runs a set of targeted web queries per request against Brave Search.
// Individual query failures are logged and skipped; the call fails only when
// every query failed.
type Brave struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// NewBrave creates a Brave searcher
func NewBrave(cfg BraveConfig, logger *zap.Logger) *Brave {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBraveURL
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 2
	}
	return &Brave{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(perSec), burst),
		maxRetries: retries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     logger,
	}
}

// Name implements Searcher
func (b *Brave) Name() string { return "brave" }

// Depth implements Searcher
func (b *Brave) Depth() Depth { return Deep }

// Queries builds the web queries for q
func (b *Brave) Queries(q Query) []string {
	vehicle := q.Vehicle()
	concern := q.Concern()
	queries := []string{
		fmt.Sprintf("site:reddit.com/r/MechanicAdvice OR site:reddit.com/r/AskMechanics %s %s", vehicle, concern),
		fmt.Sprintf("%s %s TSB OR service bulletin OR repair procedure", vehicle, concern),
		fmt.Sprintf("site:f150forum.com OR site:gm-trucks.com OR site:honda-tech.com OR site:bobistheoilguy.com %s %s", q.Model, concern),
		fmt.Sprintf("site:tsbsearch.com OR site:safercar.gov OR site:nhtsa.gov %s %s", vehicle, concern),
	}
	switch q.ChunkType {
	case "torque_spec":
		queries = append(queries, fmt.Sprintf("site:repairpal.com OR site:yourmechanic.com %s torque specs", vehicle))
	case "fluid_capacity", "filter_spec":
		queries = append(queries, fmt.Sprintf("%s %s oil capacity filter viscosity", vehicle, q.Engine))
	}
	return queries
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Search implements Searcher
func (b *Brave) Search(ctx context.Context, q Query) (*Response, error) {
	resp := &Response{}
	var lastErr error
	failures := 0
	queries := b.Queries(q)

	for _, query := range queries {
		results, err := b.query(ctx, query)
		metrics.CollaboratorCalls.WithLabelValues(b.Name(), metrics.Result(err)).Inc()
		if err != nil {
			if ctx.Err() != nil {
				return nil, unavailable(b.Name(), ctx.Err())
			}
			b.logger.Warn("brave query failed", zap.String("query", query), zap.Error(err))
			lastErr = err
			failures++
			continue
		}
		resp.Cost += braveCostPerQuery
		resp.Results = append(resp.Results, results...)
	}

	if failures == len(queries) && lastErr != nil {
		return nil, unavailable(b.Name(), lastErr)
	}
	resp.Results = Dedupe(resp.Results)
	return resp, nil
}

func (b *Brave) query(ctx context.Context, query string) ([]consensus.SourceResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", fmt.Sprintf("%d", braveResultCount))
	params.Set("search_lang", "en")
	endpoint := b.baseURL + "/web/search?" + params.Encode()

	policy := backoff.WithContext(backoff.WithMaxRetries(b.newBackOff(), b.maxRetries), ctx)
	decoded, err := backoff.RetryWithData(func() (*braveResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", b.apiKey)

		httpResp, err := b.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to search: %w", err)
		}
		defer httpResp.Body.Close()

		if err := checkStatus(httpResp); err != nil {
			return nil, err
		}
		var out braveResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
		}
		return &out, nil
	}, policy)
	if err != nil {
		return nil, err
	}

	results := make([]consensus.SourceResult, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		results = append(results, consensus.SourceResult{
			URL:     r.URL,
			Title:   CleanSnippet(r.Title),
			Snippet: CleanSnippet(r.Description),
		})
	}
	return results, nil
}
