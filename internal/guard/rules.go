package guard

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// StubExemption accepts explicit placeholder content
type StubExemption struct{}

var stubMarkers = []string{"stub content", "pending verification", "being generated"}

func (StubExemption) Name() string { return "stub_exemption" }

func (StubExemption) Evaluate(c Content) Result {
	if lo.SomeBy(stubMarkers, c.Contains) {
		return Skip()
	}
	return Pass()
}

// TypeExemption accepts concise spec-like content
type TypeExemption struct{}

var exemptTypes = []string{"torque_spec", "fluid_capacity", "spec", "labor_time", "wiring_diagram", "diagram"}

var exemptContentMarkers = []string{"torque", "capacity", "spec", "diagram"}

func (TypeExemption) Name() string { return "type_exemption" }

func (TypeExemption) Evaluate(c Content) Result {
	if lo.Contains(exemptTypes, c.ChunkType) {
		return Skip()
	}
	if containsAny(c.ContentID, exemptContentMarkers) {
		return Skip()
	}
	return Pass()
}

// MinLength rejects content that is likely an incomplete stub
type MinLength struct {
	Min int
}

func (MinLength) Name() string { return "min_length" }

func (r MinLength) Evaluate(c Content) Result {
	if n := c.Len(); n < r.Min {
		return Fail(fmt.Sprintf("Content too short (%d chars, minimum %d) - likely incomplete/stub", n, r.Min))
	}
	return Pass()
}

// CrossBrand rejects another corporate family's branded terms
type CrossBrand struct {
	Brands []Brand
}

func (CrossBrand) Name() string { return "cross_brand" }

func (r CrossBrand) Evaluate(c Content) Result {
	for _, b := range r.Brands {
		if b.owns(c) {
			continue
		}
		found := lo.Filter(b.Keywords, func(k string, _ int) bool { return c.Contains(k) })
		if len(found) > 0 {
			name := strings.ToUpper(b.Name)
			return Fail(fmt.Sprintf("Cross-brand contamination: %s keywords %v found in non-%s vehicle", name, found, name))
		}
	}
	return Pass()
}

// WrongProcedure rejects oil-change text inside unrelated procedures
type WrongProcedure struct{}

var procedureTypes = []string{"removal_steps", "procedure", "diagnosis", "diag_flow"}

var fluidContentMarkers = []string{"torque", "capacity", "spec", "fluid"}

var oilChangePhrases = []string{
	"drain oil",
	"oil drain plug",
	"add new oil",
	"replace oil filter",
	"motorcraft fl-500s",
	"5w-20",
	"5w-30",
	"0w-20",
}

func (WrongProcedure) Name() string { return "wrong_procedure" }

func (WrongProcedure) Evaluate(c Content) Result {
	if !lo.Contains(procedureTypes, c.ChunkType) {
		return Pass()
	}
	if strings.Contains(c.ContentID, "oil") || strings.Contains(c.VehicleKey, "oil") {
		return Pass()
	}
	if containsAny(c.ContentID, fluidContentMarkers) {
		return Pass()
	}
	found := lo.Filter(oilChangePhrases, func(p string, _ int) bool { return c.Contains(p) })
	if len(found) > 0 {
		return Fail(fmt.Sprintf("Oil-change contamination: %v found in %s", found, c.ContentID))
	}
	return Pass()
}

// RequiredKeywords rejects content that never mentions its own topic
type RequiredKeywords struct {
	Topics []Topic
}

func (RequiredKeywords) Name() string { return "required_keywords" }

func (r RequiredKeywords) Evaluate(c Content) Result {
	for _, t := range r.Topics {
		if !strings.Contains(c.ContentID, t.Name) {
			continue
		}
		if !lo.SomeBy(t.Keywords, c.Contains) {
			return Fail(fmt.Sprintf("Missing topic keywords: %s must contain one of %v", c.ContentID, t.Keywords))
		}
	}
	return Pass()
}

func containsAny(s string, subs []string) bool {
	return lo.SomeBy(subs, func(sub string) bool { return strings.Contains(s, sub) })
}
