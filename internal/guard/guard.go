// Package guard blocks contaminated content before it is persisted.
//
// A Guard runs an ordered list of rules over a normalized view of the
// content. The first rule that exempts or rejects decides the verdict; when
// every rule lets the content through it passes.
package guard

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/servicechunks/internal/domain"
)

// Input is the content offered for persistence
type Input struct {
	VehicleKey  string
	ContentID   string
	ChunkType   string
	Data        map[string]any
	ContentText string
}

// Content is the normalized view every rule evaluates
type Content struct {
	Text       string
	VehicleKey string
	ContentID  string
	ChunkType  string
	Make       string
}

// Len is the content length in characters
func (c Content) Len() int {
	return utf8.RuneCountInString(c.Text)
}

// Contains reports whether the normalized text contains term
func (c Content) Contains(term string) bool {
	return strings.Contains(c.Text, term)
}

// NewContent normalizes an input: lower-cased JSON of the data, a space,
// then the lower-cased content text.
func NewContent(in Input) Content {
	var data []byte
	if len(in.Data) > 0 {
		data, _ = json.Marshal(in.Data)
	} else {
		data = []byte("{}")
	}
	text := strings.ToLower(string(data))
	if in.ContentText != "" {
		text += " " + strings.ToLower(in.ContentText)
	}
	return Content{
		Text:       text,
		VehicleKey: strings.ToLower(in.VehicleKey),
		ContentID:  strings.ToLower(in.ContentID),
		ChunkType:  strings.ToLower(in.ChunkType),
		Make:       domain.VehicleMake(in.VehicleKey),
	}
}

// Decision is what a rule concluded about the content
type Decision int

const (
	// Continue lets the next rule run
	Continue Decision = iota
	// Exempt stops evaluation and accepts the content
	Exempt
	// Reject stops evaluation and blocks the content
	Reject
)

// Result is a single rule's outcome
type Result struct {
	Decision Decision
	Reason   string
}

// Pass lets evaluation continue
func Pass() Result { return Result{Decision: Continue} }

// Skip exempts the content from the remaining rules
func Skip() Result { return Result{Decision: Exempt} }

// Fail rejects the content
func Fail(reason string) Result { return Result{Decision: Reject, Reason: reason} }

// Rule is one contamination check
type Rule interface {
	Name() string
	Evaluate(c Content) Result
}

// Verdict is the guard's decision for an input. Rule names the rule that
// decided, empty when no rule did.
type Verdict struct {
	Passed bool
	Rule   string
	Reason string
}

// Guard runs rules in order
type Guard struct {
	rules []Rule
}

// New builds a guard from an explicit rule pipeline
func New(rules ...Rule) *Guard {
	return &Guard{rules: rules}
}

// Default returns the guard with the built-in rules and tables
func Default() *Guard {
	return FromTables(DefaultTables())
}

// FromTables builds the built-in pipeline over the given tables
func FromTables(t Tables) *Guard {
	return New(
		StubExemption{},
		TypeExemption{},
		MinLength{Min: 120},
		CrossBrand{Brands: t.Brands},
		WrongProcedure{},
		RequiredKeywords{Topics: t.Topics},
	)
}

// Rules returns the rule names in evaluation order
func (g *Guard) Rules() []string {
	names := make([]string, len(g.rules))
	for i, r := range g.rules {
		names[i] = r.Name()
	}
	return names
}

// Validate evaluates the input against every rule until one decides
func (g *Guard) Validate(in Input) Verdict {
	c := NewContent(in)
	for _, r := range g.rules {
		res := r.Evaluate(c)
		switch res.Decision {
		case Exempt:
			return Verdict{Passed: true, Rule: r.Name()}
		case Reject:
			return Verdict{Passed: false, Rule: r.Name(), Reason: res.Reason}
		}
	}
	return Verdict{Passed: true}
}
