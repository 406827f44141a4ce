package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	// DefaultChatModel is used when no model is configured
	DefaultChatModel = openai.GPT4oMini
	// DefaultCompletionTimeout bounds a single oracle call including retries
	DefaultCompletionTimeout = 45 * time.Second
)

// ErrEmptyCompletion is returned when the model produced no choices
var ErrEmptyCompletion = errors.New("no completion choices returned")

// CompletionRequest is a single prompt for the oracle
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
	JSONMode     bool
}

// Completion is the oracle's answer
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// ChatAPI is the subset of the OpenAI client the oracle needs
type ChatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OracleConfig configures an Oracle
type OracleConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries uint64
}

// Oracle is a generative model behind a circuit breaker and retry policy
type Oracle struct {
	api        ChatAPI
	model      string
	timeout    time.Duration
	maxRetries uint64
	newBackOff func() backoff.BackOff
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewOracle creates an Oracle talking to an OpenAI-compatible endpoint
func NewOracle(cfg OracleConfig, logger *zap.Logger) *Oracle {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewOracleWithAPI(openai.NewClientWithConfig(clientCfg), cfg, logger)
}

// NewOracleWithAPI creates an Oracle over an existing ChatAPI
func NewOracleWithAPI(api ChatAPI, cfg OracleConfig, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := cfg.Model
	if model == "" {
		model = DefaultChatModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCompletionTimeout
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = 2
	}

	o := &Oracle{
		api:        api,
		model:      model,
		timeout:    timeout,
		maxRetries: retries,
		newBackOff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger:     logger,
	}
	o.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oracle",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return o
}

// Model returns the configured model name
func (o *Oracle) Model() string {
	return o.model
}

// Complete sends one prompt. Transient failures are retried with exponential
// backoff; repeated failures open the breaker and fail fast.
func (o *Oracle) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	out, err := o.breaker.Execute(func() (interface{}, error) {
		policy := backoff.WithContext(
			backoff.WithMaxRetries(o.newBackOff(), o.maxRetries),
			ctx,
		)
		return backoff.RetryWithData(func() (*Completion, error) {
			return o.complete(ctx, req)
		}, policy)
	})
	if err != nil {
		return nil, fmt.Errorf("oracle completion failed: %w", err)
	}
	return out.(*Completion), nil
}

func (o *Oracle) complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := o.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		o.logger.Debug("oracle call failed, retrying", zap.Error(err))
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, backoff.Permanent(ErrEmptyCompletion)
	}

	return &Completion{
		Content:          strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// retryable reports whether an API error is worth another attempt
func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
