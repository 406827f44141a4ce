package domain

import "strings"

// SourceType classifies where a citation came from
type SourceType string

const (
	SourceTypeNHTSA          SourceType = "nhtsa"
	SourceTypeTSB            SourceType = "tsb"
	SourceTypeForum          SourceType = "forum"
	SourceTypePublicManual   SourceType = "public_manual"
	SourceTypeAPI            SourceType = "api"
	SourceTypeReddit         SourceType = "reddit"
	SourceTypeYouTube        SourceType = "youtube"
	SourceTypeWarning        SourceType = "warning"
	SourceTypeVisionAnalysis SourceType = "vision_analysis"
	SourceTypeOfficial       SourceType = "official"
	SourceTypeOther          SourceType = "other"
)

// SourceCitation is a provenance record attached to generated content
type SourceCitation struct {
	SourceType  SourceType `json:"source_type"`
	URL         string     `json:"url,omitempty"`
	Description string     `json:"description"`
	Confidence  float64    `json:"confidence"`
	Upvotes     *int       `json:"upvotes,omitempty"`
}

// IsOfficial reports whether the type is an official or manual source
func (t SourceType) IsOfficial() bool {
	switch t {
	case SourceTypeOfficial, SourceTypePublicManual, SourceTypeNHTSA, SourceTypeTSB:
		return true
	}
	return false
}

// IsCommunity reports whether the type is community-generated
func (t SourceType) IsCommunity() bool {
	switch t {
	case SourceTypeForum, SourceTypeReddit, SourceTypeYouTube:
		return true
	}
	return false
}

// IsHighConfidence is true for official sources at 0.85 or above, and for
// community sources with at least 50 upvotes at 0.8 or above.
func (c SourceCitation) IsHighConfidence() bool {
	if c.SourceType.IsOfficial() {
		return c.Confidence >= 0.85
	}
	if c.SourceType.IsCommunity() {
		return c.Upvotes != nil && *c.Upvotes >= 50 && c.Confidence >= 0.8
	}
	return false
}

// SourceTypeForURL classifies a URL into a citation source type
func SourceTypeForURL(url string) SourceType {
	u := strings.ToLower(url)
	switch {
	case strings.Contains(u, "reddit.com"):
		return SourceTypeReddit
	case strings.Contains(u, "youtube.com"):
		return SourceTypeYouTube
	case strings.Contains(u, "forum"), strings.Contains(u, "bobistheoilguy"):
		return SourceTypeForum
	case strings.HasSuffix(u, ".pdf"):
		return SourceTypePublicManual
	case strings.Contains(u, "nhtsa"):
		return SourceTypeNHTSA
	case strings.Contains(u, "tsb"):
		return SourceTypeTSB
	}
	return SourceTypeOther
}

// ConsensusData aggregates every observed value of one fact type
type ConsensusData struct {
	FactType       string   `json:"fact_type"`
	Values         []string `json:"values"`
	Sources        []string `json:"sources"`
	ConsensusValue string   `json:"consensus_value,omitempty"`
	Confidence     float64  `json:"confidence"`
}

// Calculate sets ConsensusValue to the most frequent normalized value and
// Confidence to agreement * (0.5 + 0.5*min(1, sources/3)). Ties go to the
// value observed first.
func (d *ConsensusData) Calculate() {
	if len(d.Values) == 0 {
		d.ConsensusValue = ""
		d.Confidence = 0
		return
	}

	counts := make(map[string]int, len(d.Values))
	order := make([]string, 0, len(d.Values))
	for _, v := range d.Values {
		n := strings.ToLower(strings.TrimSpace(v))
		if _, seen := counts[n]; !seen {
			order = append(order, n)
		}
		counts[n]++
	}

	best := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}

	agreement := float64(counts[best]) / float64(len(d.Values))
	sourceFactor := float64(len(d.Sources)) / 3
	if sourceFactor > 1 {
		sourceFactor = 1
	}

	d.ConsensusValue = best
	d.Confidence = agreement * (0.5 + 0.5*sourceFactor)
}
