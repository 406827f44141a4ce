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

	"github.com/cloo-solutions/servicechunks/internal/consensus"
	"github.com/cloo-solutions/servicechunks/internal/metrics"
)

// DefaultNHTSAURL is the NHTSA public API root
const DefaultNHTSAURL = "https://api.nhtsa.gov"

const nhtsaMaxComplaints = 10

// NHTSA looks up owner complaints for the vehicle and keeps the ones that
// mention the requested component
type NHTSA struct {
	baseURL    string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// NewNHTSA creates an NHTSA searcher. An empty baseURL uses DefaultNHTSAURL.
func NewNHTSA(baseURL string, logger *zap.Logger) *NHTSA {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultNHTSAURL
	}
	return &NHTSA{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		newBackOff: func() backoff.BackOff { return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2) },
		logger:     logger,
	}
}

// Name implements Searcher
func (n *NHTSA) Name() string { return "nhtsa" }

// Depth implements Searcher
func (n *NHTSA) Depth() Depth { return Fast }

type complaintsResponse struct {
	Results []struct {
		ODINumber  int    `json:"odiNumber"`
		Components string `json:"components"`
		Summary    string `json:"summary"`
	} `json:"results"`
}

// Search implements Searcher
func (n *NHTSA) Search(ctx context.Context, q Query) (*Response, error) {
	decoded, err := n.complaints(ctx, q)
	metrics.CollaboratorCalls.WithLabelValues(n.Name(), metrics.Result(err)).Inc()
	if err != nil {
		return nil, unavailable(n.Name(), err)
	}

	words := strings.Fields(strings.ToLower(q.Concern()))
	pageURL := fmt.Sprintf("https://www.nhtsa.gov/vehicle/%s/%s/%s", q.Year, q.Make, q.Model)

	resp := &Response{}
	for _, c := range decoded.Results {
		if len(resp.Results) >= nhtsaMaxComplaints {
			break
		}
		text := strings.ToLower(c.Summary + " " + c.Components)
		if !mentionsAny(text, words) {
			continue
		}
		resp.Results = append(resp.Results, consensus.SourceResult{
			URL:     fmt.Sprintf("%s#complaint-%d", pageURL, c.ODINumber),
			Title:   fmt.Sprintf("NHTSA complaint %d: %s", c.ODINumber, c.Components),
			Snippet: CleanSnippet(c.Summary),
		})
	}

	n.logger.Debug("nhtsa complaints matched",
		zap.String("vehicle_key", q.VehicleKey),
		zap.Int("total", len(decoded.Results)),
		zap.Int("matched", len(resp.Results)))
	return resp, nil
}

func (n *NHTSA) complaints(ctx context.Context, q Query) (*complaintsResponse, error) {
	params := url.Values{}
	params.Set("make", q.Make)
	params.Set("model", q.Model)
	params.Set("modelYear", q.Year)
	endpoint := n.baseURL + "/complaints/complaintsByVehicle?" + params.Encode()

	return backoff.RetryWithData(func() (*complaintsResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch complaints: %w", err)
		}
		defer resp.Body.Close()

		if err := checkStatus(resp); err != nil {
			return nil, err
		}
		var out complaintsResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to parse complaints: %w", err))
		}
		return &out, nil
	}, backoff.WithContext(n.newBackOff(), ctx))
}

func mentionsAny(text string, words []string) bool {
	for _, w := range words {
		if len(w) > 2 && strings.Contains(text, w) {
			return true
		}
	}
	return false
}
