// Package consensus scores how far independent search results agree on the
// facts a chunk needs.
package consensus

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/cloo-solutions/servicechunks/internal/domain"
)

// SourceResult is one search hit
type SourceResult struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Score is the scorer's output for one set of results
type Score struct {
	Facts      []string                         `json:"facts"`
	Citations  []domain.SourceCitation          `json:"citations"`
	Consensus  map[string]*domain.ConsensusData `json:"consensus"`
	Confidence float64                          `json:"confidence"`
}

// Tier weights, highest authority first
const (
	TierOEM           = 1.0
	TierOfficial      = 0.95
	TierLicensed      = 0.9
	TierTechnical     = 0.8
	TierCommunityHigh = 0.7
	TierCommunityLow  = 0.5
	TierUnknown       = 0.3
)

type tier struct {
	weight  float64
	domains []string
}

var tiers = []tier{
	{TierOEM, []string{"ford.com", "gm.com", "toyota.com", "honda.com", "hyundai.com", "nissanusa.com", "subaru.com"}},
	{TierOfficial, []string{"nhtsa.gov", "epa.gov", "safercar.gov"}},
	{TierLicensed, []string{"alldata.com", "mitchell1.com", "identifix.com", "tsbsearch.com", "vehicledatabases.com"}},
	{TierTechnical, []string{"repairpal.com", "yourmechanic.com", "carcomplaints.com", "autoblog.com", "motortrend.com"}},
	{TierCommunityHigh, []string{"reddit.com/r/mechanicadvice", "reddit.com/r/cartalk", "bobistheoilguy.com", "f150forum.com", "honda-tech.com", "gm-trucks.com"}},
	{TierCommunityLow, []string{"reddit.com", "forum"}},
}

var factPatterns = map[string][]*regexp.Regexp{
	"oil_capacity": {
		regexp.MustCompile(`(?i)(\d+\.?\d*)\s*(qt|quart|liter|L)\b`),
		regexp.MustCompile(`(?i)oil\s*capacity[:\s]*(\d+\.?\d*)`),
	},
	"torque": {
		regexp.MustCompile(`(?i)(\d+)\s*(ft[- ]?lb|lb[- ]?ft|nm|n·m)\b`),
		regexp.MustCompile(`(?i)torque[:\s]*(\d+)`),
	},
	"filter_number": {
		regexp.MustCompile(`(?i)\b([A-Z]{2,3}[\d]{3,6}[A-Z]?)\b`),
	},
	"viscosity": {
		regexp.MustCompile(`(?i)\b(\d+[wW]-?\d+)\b`),
	},
}

var activeFacts = map[string][]string{
	"fluid_capacity": {"oil_capacity", "viscosity", "filter_number"},
	"torque_spec":    {"torque"},
	"filter_spec":    {"filter_number"},
}

const maxDescriptionRunes = 100

// Scorer is stateless and safe for concurrent use
type Scorer struct{}

// NewScorer creates a Scorer
func NewScorer() *Scorer {
	return &Scorer{}
}

// TierWeight classifies a URL into an authority tier
func TierWeight(url string) float64 {
	u := strings.ToLower(url)
	for _, t := range tiers {
		for _, d := range t.domains {
			if strings.Contains(u, d) {
				return t.weight
			}
		}
	}
	return TierUnknown
}

// FactTypes returns the fact types extracted for a chunk type
func FactTypes(chunkType string) []string {
	return activeFacts[chunkType]
}

// Score extracts facts, builds per-fact consensus, citations and the overall
// confidence. Results are processed in the given order.
func (s *Scorer) Score(results []SourceResult, chunkType string) Score {
	consensus := s.extract(results, chunkType)

	citations := make([]domain.SourceCitation, 0, len(results))
	for _, r := range results {
		citations = append(citations, domain.SourceCitation{
			SourceType:  domain.SourceTypeForURL(r.URL),
			URL:         r.URL,
			Description: truncateRunes(r.Title, maxDescriptionRunes),
			Confidence:  TierWeight(r.URL),
		})
	}

	factTypes := make([]string, 0, len(consensus))
	for ft := range consensus {
		factTypes = append(factTypes, ft)
	}
	sort.Strings(factTypes)

	facts := make([]string, 0, len(factTypes))
	for _, ft := range factTypes {
		facts = append(facts, ft+": "+consensus[ft].ConsensusValue)
	}

	return Score{
		Facts:      facts,
		Citations:  citations,
		Consensus:  consensus,
		Confidence: overall(consensus, results),
	}
}

func (s *Scorer) extract(results []SourceResult, chunkType string) map[string]*domain.ConsensusData {
	consensus := make(map[string]*domain.ConsensusData)
	active := activeFacts[chunkType]
	if len(active) == 0 {
		return consensus
	}

	for _, r := range results {
		text := r.Title + " " + r.Snippet
		for _, factType := range active {
			for _, re := range factPatterns[factType] {
				for _, m := range re.FindAllStringSubmatch(text, -1) {
					d, ok := consensus[factType]
					if !ok {
						d = &domain.ConsensusData{FactType: factType}
						consensus[factType] = d
					}
					d.Sources = append(d.Sources, r.URL)
					d.Values = append(d.Values, m[1])
				}
			}
		}
	}

	for _, d := range consensus {
		d.Calculate()
	}
	return consensus
}

func overall(consensus map[string]*domain.ConsensusData, results []SourceResult) float64 {
	if len(results) == 0 {
		return 0
	}

	var tierSum float64
	for _, r := range results {
		tierSum += TierWeight(r.URL)
	}
	avgTier := tierSum / float64(len(results))

	avgConsensus := 0.5
	var sum float64
	var n int
	for _, d := range consensus {
		if d.Confidence > 0 {
			sum += d.Confidence
			n++
		}
	}
	if n > 0 {
		avgConsensus = sum / float64(n)
	}

	countFactor := math.Min(1, float64(len(results))/5)

	return round2(avgTier*0.4 + avgConsensus*0.4 + countFactor*0.2)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
