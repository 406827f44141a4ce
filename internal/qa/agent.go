// Package qa reviews chunks with static rules followed by a semantic check
// against the generative oracle.
package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/servicechunks/internal/domain"
	"github.com/cloo-solutions/servicechunks/internal/openai"
)

// SystemPrompt frames the semantic check
const SystemPrompt = "You are a strict automotive QA agent. Output JSON only."

// DefaultTimeout bounds one semantic check
const DefaultTimeout = 45 * time.Second

const (
	rulesPassedNote  = "Rules passed"
	llmFailedNote    = "LLM verification failed"
	llmSkippedFormat = "LLM check skipped (%v)"
)

var instructions = []string{
	"Verify that the content matches the vehicle and chunk type.",
	"Check for hallucinations (e.g. wrong engine, wrong specs).",
	"Check for formatting issues.",
	"Return JSON only with 'status' (pass/fail) and 'notes'.",
}

// Oracle answers a single completion request
type Oracle interface {
	Complete(ctx context.Context, req openai.CompletionRequest) (*openai.Completion, error)
}

// Agent reviews chunks
type Agent struct {
	rules   []Rule
	oracle  Oracle
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures an Agent
type Option func(*Agent)

// WithRules replaces the static rules
func WithRules(rules ...Rule) Option {
	return func(a *Agent) { a.rules = rules }
}

// WithTimeout sets the per-call oracle timeout
func WithTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAgent creates an Agent. A nil oracle skips the semantic stage.
func NewAgent(oracle Oracle, opts ...Option) *Agent {
	a := &Agent{
		rules:   DefaultRules(),
		oracle:  oracle,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Review runs the rule stage and, when it passes, the semantic stage
func (a *Agent) Review(ctx context.Context, chunk *domain.Chunk) domain.QAOutcome {
	if outcome, failed := a.CheckRules(chunk); failed {
		return outcome
	}
	return a.checkSemantic(ctx, chunk)
}

// CheckRules runs the static rules only
func (a *Agent) CheckRules(chunk *domain.Chunk) (domain.QAOutcome, bool) {
	subject := NewSubject(chunk)
	for _, r := range a.rules {
		if reason, failed := r.Evaluate(subject); failed {
			a.logger.Debug("qa rule failed",
				zap.String("rule", r.Name()),
				zap.String("chunk_id", chunk.ID),
				zap.String("reason", reason))
			return domain.QAOutcome{Status: domain.QAStatusFail, Notes: reason}, true
		}
	}
	return domain.QAOutcome{Status: domain.QAStatusPass, Notes: rulesPassedNote}, false
}

type verificationPrompt struct {
	Task         string         `json:"task"`
	Vehicle      string         `json:"vehicle"`
	ChunkType    string         `json:"chunk_type"`
	Content      map[string]any `json:"content"`
	Instructions []string       `json:"instructions"`
}

type verificationAnswer struct {
	Status *string `json:"status"`
	Notes  *string `json:"notes"`
}

func (a *Agent) checkSemantic(ctx context.Context, chunk *domain.Chunk) domain.QAOutcome {
	if a.oracle == nil {
		return skipped(fmt.Errorf("no oracle configured"))
	}

	prompt, err := json.Marshal(verificationPrompt{
		Task:         "QA_VERIFICATION",
		Vehicle:      chunk.VehicleKey,
		ChunkType:    chunk.ChunkType,
		Content:      chunk.Data,
		Instructions: instructions,
	})
	if err != nil {
		return skipped(err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	completion, err := a.oracle.Complete(ctx, openai.CompletionRequest{
		SystemPrompt: SystemPrompt,
		UserPrompt:   string(prompt),
		JSONMode:     true,
	})
	if err != nil {
		a.logger.Warn("semantic qa check skipped", zap.String("chunk_id", chunk.ID), zap.Error(err))
		return skipped(err)
	}

	var answer verificationAnswer
	if err := json.Unmarshal([]byte(completion.Content), &answer); err != nil {
		a.logger.Warn("semantic qa answer malformed", zap.String("chunk_id", chunk.ID), zap.Error(err))
		return skipped(err)
	}

	return answer.outcome()
}

// outcome maps the oracle's answer. A missing or unknown status is a fail.
func (v verificationAnswer) outcome() domain.QAOutcome {
	notes := llmFailedNote
	if v.Notes != nil {
		notes = *v.Notes
	}
	status := domain.QAStatusFail
	if v.Status != nil && strings.ToLower(strings.TrimSpace(*v.Status)) == string(domain.QAStatusPass) {
		status = domain.QAStatusPass
	}
	return domain.QAOutcome{Status: status, Notes: notes}
}

func skipped(err error) domain.QAOutcome {
	return domain.QAOutcome{Status: domain.QAStatusPass, Notes: fmt.Sprintf(llmSkippedFormat, err)}
}
