package service

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/telemetry"
)

const (
	defaultSearchLimit  = 10
	candidateMultiplier = 4
	minCandidates       = 20
	maxCandidates       = 200
	snippetMaxChars     = 220

	rrfK              = 60
	semanticWeight    = 1.0
	lexicalWeight     = 0.85
	verifiedBoost     = 0.002
	candidateBoost    = 0.001
	recencyWindowDays = 30
	recencyMaxBoost   = 0.001
)

type SearchMode string

const (
	SearchModeHybrid   SearchMode = "hybrid"
	SearchModeSemantic SearchMode = "semantic"
	SearchModeLexical  SearchMode = "lexical"
)

// ParseSearchMode maps free text to a mode, defaulting to hybrid
func ParseSearchMode(s string) SearchMode {
	switch SearchMode(strings.ToLower(strings.TrimSpace(s))) {
	case SearchModeSemantic:
		return SearchModeSemantic
	case SearchModeLexical:
		return SearchModeLexical
	default:
		return SearchModeHybrid
	}
}

// QueryEmbedder turns a search query into a vector
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type SearchInput struct {
	VehicleKey string
	ChunkTypes []string
	Query      string
	Mode       SearchMode
	Limit      int
}

// SearchHit is one ranked chunk
type SearchHit struct {
	Chunk    *domain.Chunk
	Score    float64
	Snippet  string
	Semantic bool
	Lexical  bool
}

// WithEmbedder enables semantic search
func (s *ChunkService) WithEmbedder(e QueryEmbedder) *ChunkService {
	s.embedder = e
	return s
}

// Search ranks a vehicle's readable chunks against a free-text query. Hybrid
// mode fuses the vector and full-text rankings with reciprocal rank fusion and
// degrades to full-text alone when no embedding is available. Quarantined
// chunks are never returned.
func (s *ChunkService) Search(ctx context.Context, in SearchInput) ([]*SearchHit, error) {
	ctx, span := telemetry.StartSpan(ctx, "ChunkService.Search", telemetry.SpanAttributes{
		VehicleKey: in.VehicleKey,
		Operation:  "search",
	})
	defer span.End()

	if err := domain.ValidateVehicleKey(in.VehicleKey); err != nil {
		return nil, err
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return []*SearchHit{}, nil
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	candidates := min(max(limit*candidateMultiplier, minCandidates), maxCandidates)

	mode := in.Mode
	if mode == "" {
		mode = SearchModeHybrid
	}

	var semantic []*domain.Chunk
	if mode != SearchModeLexical {
		vector, err := s.embedQuery(ctx, query)
		switch {
		case err == nil:
			semantic, err = s.repo.FindSimilar(ctx, in.VehicleKey, in.ChunkTypes, vector, candidates)
			if err != nil {
				span.SetError(err)
				return nil, err
			}
		case mode == SearchModeSemantic:
			return nil, err
		default:
			s.logger.Warn("semantic search unavailable, using full-text only",
				zap.String("vehicle_key", in.VehicleKey), zap.Error(err))
		}
	}

	var lexical []*domain.Chunk
	if mode != SearchModeSemantic {
		if terms := keywordTerms(query); len(terms) > 0 {
			var err error
			lexical, err = s.repo.SearchText(ctx, in.VehicleKey, in.ChunkTypes, strings.Join(terms, " or "), candidates)
			if err != nil {
				span.SetError(err)
				return nil, err
			}
		}
	}

	hits := fuse(semantic, lexical, time.Now())
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *ChunkService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.embedder == nil {
		return nil, domain.NewDomainError(domain.ErrCodeCollaboratorUnavailable, "semantic search is not configured")
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &domain.CollaboratorError{Collaborator: "embeddings", Err: err}
	}
	return vector, nil
}

type fusionCandidate struct {
	hit *SearchHit
	rrf float64
}

// fuse merges both rankings by reciprocal rank, drops anything not readable
// and applies the trust and recency boosts
func fuse(semantic, lexical []*domain.Chunk, now time.Time) []*SearchHit {
	byID := make(map[string]*fusionCandidate)
	add := func(list []*domain.Chunk, weight float64, isSemantic bool) {
		for i, c := range list {
			if c == nil || c.Visibility() != domain.VisibilityVisible {
				continue
			}
			cand, ok := byID[c.ID]
			if !ok {
				cand = &fusionCandidate{hit: &SearchHit{Chunk: c, Snippet: makeSnippet(c.ContentText)}}
				byID[c.ID] = cand
			}
			cand.rrf += weight / float64(rrfK+i+1)
			if isSemantic {
				cand.hit.Semantic = true
			} else {
				cand.hit.Lexical = true
			}
		}
	}
	add(semantic, semanticWeight, true)
	add(lexical, lexicalWeight, false)

	out := make([]*SearchHit, 0, len(byID))
	for _, cand := range byID {
		cand.hit.Score = cand.rrf + trustBoost(cand.hit.Chunk) + recencyBoost(cand.hit.Chunk.UpdatedAt, now)
		out = append(out, cand.hit)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Chunk.UpdatedAt.After(out[j].Chunk.UpdatedAt)
	})
	return out
}

func trustBoost(c *domain.Chunk) float64 {
	switch c.VerifiedStatus {
	case domain.VerifiedStatusVerified:
		return verifiedBoost
	case domain.VerifiedStatusCandidate:
		return candidateBoost
	}
	return 0
}

func recencyBoost(updatedAt, now time.Time) float64 {
	if updatedAt.IsZero() {
		return 0
	}
	ageDays := max(now.Sub(updatedAt).Hours()/24, 0)
	if ageDays > recencyWindowDays {
		return 0
	}
	return (1 - ageDays/recencyWindowDays) * recencyMaxBoost
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "for": {}, "with": {},
	"in": {}, "on": {}, "at": {}, "from": {}, "is": {}, "are": {}, "it": {}, "my": {}, "do": {},
	"does": {}, "what": {}, "how": {}, "which": {}, "can": {}, "i": {}, "you": {}, "should": {},
}

// keywordTerms strips punctuation and stopwords so questions like "how do I
// change the oil" become [change oil]
func keywordTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-'
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".-")
		if f == "" {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		terms = append(terms, f)
	}
	return terms
}

func makeSnippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	runes := []rune(clean)
	if len(runes) <= snippetMaxChars {
		return clean
	}
	return string(runes[:snippetMaxChars-3]) + "..."
}
