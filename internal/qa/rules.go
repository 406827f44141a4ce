package qa

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/cloo-solutions/servicechunks/internal/domain"
)

// Subject is the normalized view of a chunk the rules inspect
type Subject struct {
	ContentID string
	Make      string
	Text      string
	HasData   bool
}

// NewSubject serializes the chunk data once for every rule
func NewSubject(c *domain.Chunk) Subject {
	var text string
	if len(c.Data) > 0 {
		raw, _ := json.Marshal(c.Data)
		text = strings.ToLower(string(raw))
	}
	return Subject{
		ContentID: c.ContentID,
		Make:      domain.VehicleMake(c.VehicleKey),
		Text:      text,
		HasData:   len(c.Data) > 0,
	}
}

// Rule is a static QA check. An empty reason means the chunk passed.
type Rule interface {
	Name() string
	Evaluate(s Subject) (reason string, failed bool)
}

// DefaultRules returns the built-in checks in evaluation order
func DefaultRules() []Rule {
	return []Rule{
		Placeholder{Terms: placeholderTerms},
		MinContent{Min: 20},
		BrandMismatch{Brands: brandTerms},
		TopicMismatch{Topics: topicTerms},
	}
}

var placeholderTerms = []string{
	"see manual",
	"refer to manual",
	"consult dealer",
	"data not available",
	"coming soon",
	"lorem ipsum",
}

// Placeholder fails content that defers to somewhere else
type Placeholder struct {
	Terms []string
}

func (Placeholder) Name() string { return "placeholder" }

func (r Placeholder) Evaluate(s Subject) (string, bool) {
	for _, term := range r.Terms {
		if strings.Contains(s.Text, term) {
			return fmt.Sprintf("Rule violation: Placeholder term '%s' detected", term), true
		}
	}
	return "", false
}

// MinContent fails empty or trivially short data
type MinContent struct {
	Min int
}

func (MinContent) Name() string { return "min_content" }

func (r MinContent) Evaluate(s Subject) (string, bool) {
	if !s.HasData || len(s.Text) < r.Min {
		return "Rule violation: Content too short or empty", true
	}
	return "", false
}

// BrandTerms are model names and part brands tied to one make
type BrandTerms struct {
	Makes []string
	Terms []string
}

var brandTerms = []BrandTerms{
	{Makes: []string{"ford"}, Terms: []string{"motorcraft", "f-150", "f150", "mustang", "expedition"}},
	{Makes: []string{"chevrolet", "chevy"}, Terms: []string{"acdelco", "silverado", "camaro", "corvette", "equinox"}},
	{Makes: []string{"toyota"}, Terms: []string{"camry", "corolla", "rav4", "tacoma", "tundra"}},
	{Makes: []string{"honda"}, Terms: []string{"civic", "accord", "cr-v", "pilot", "odyssey"}},
	{Makes: []string{"bmw"}, Terms: []string{"bimmer", "beemer", "x3", "x5", "3-series"}},
}

// BrandMismatch fails content naming another make's models or parts
type BrandMismatch struct {
	Brands []BrandTerms
}

func (BrandMismatch) Name() string { return "brand_mismatch" }

func (r BrandMismatch) Evaluate(s Subject) (string, bool) {
	if s.Make == "" {
		return "", false
	}
	for _, b := range r.Brands {
		if lo.Contains(b.Makes, s.Make) {
			continue
		}
		for _, term := range b.Terms {
			if containsWord(s.Text, term) {
				return fmt.Sprintf("Rule violation: Mismatched brand term '%s' found in %s chunk", term, s.Make), true
			}
		}
	}
	return "", false
}

// TopicTerms are the words that identify a topic
type TopicTerms struct {
	Topic string
	Terms []string
}

var topicTerms = []TopicTerms{
	{Topic: "oil", Terms: []string{"oil", "drain", "filter", "viscosity", "quart", "liter"}},
	{Topic: "brake", Terms: []string{"brake", "pad", "rotor", "caliper", "fluid", "bleed"}},
	{Topic: "coolant", Terms: []string{"coolant", "radiator", "antifreeze", "thermostat", "pump"}},
	{Topic: "transmission", Terms: []string{"transmission", "fluid", "gear", "shift", "clutch"}},
	{Topic: "spark", Terms: []string{"spark", "plug", "gap", "coil", "ignition"}},
}

// TopicMismatch fails a chunk whose content is about a different topic than
// its content id names.
type TopicMismatch struct {
	Topics []TopicTerms
}

func (TopicMismatch) Name() string { return "topic_mismatch" }

func (r TopicMismatch) Evaluate(s Subject) (string, bool) {
	cid := strings.ToLower(s.ContentID)
	for _, own := range r.Topics {
		if !strings.Contains(cid, own.Topic) {
			continue
		}
		if len(hits(s.Text, own.Terms)) > 0 {
			continue
		}
		for _, other := range r.Topics {
			if other.Topic == own.Topic {
				continue
			}
			if found := hits(s.Text, other.Terms); len(found) >= 2 {
				return fmt.Sprintf("Rule violation: Topic mismatch. Chunk '%s' appears to be about '%s' (found terms: %s)",
					s.ContentID, other.Topic, strings.Join(found, ", ")), true
			}
		}
	}
	return "", false
}

func hits(text string, terms []string) []string {
	return lo.Filter(terms, func(t string, _ int) bool { return strings.Contains(text, t) })
}

var wordPatterns = map[string]*regexp.Regexp{}

func init() {
	for _, b := range brandTerms {
		for _, t := range b.Terms {
			wordPatterns[t] = wordPattern(t)
		}
	}
}

func wordPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[^a-z0-9])` + regexp.QuoteMeta(term) + `($|[^a-z0-9])`)
}

// containsWord matches term only where it is not part of a longer word
func containsWord(text, term string) bool {
	re, ok := wordPatterns[term]
	if !ok {
		re = wordPattern(term)
	}
	return re.MatchString(text)
}
