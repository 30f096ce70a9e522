package llm

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/holasoymalva/deepseek-cli/internal/tokens"
)

// Default endpoints, models and timeouts.
const (
	DefaultCloudURL   = "https://api.deepseek.com/chat/completions"
	DefaultOllamaHost = "http://localhost:11434"
	DefaultModel      = "deepseek-chat"
	ReasonerModel     = "deepseek-reasoner"

	DefaultCloudTimeout       = 30 * time.Second
	DefaultCloudStreamTimeout = 2 * time.Minute
	DefaultLocalTimeout       = 2 * time.Minute

	// maxErrorBody caps how much of a failed response is read.
	maxErrorBody = 1 << 20
)

// Client sends a conversation to a backend and returns the assistant reply.
// Implementations never mutate the messages they are given.
type Client interface {
	Name() string
	Complete(ctx context.Context, messages []Message) (*Result, error)
	CompleteStream(ctx context.Context, messages []Message, cb StreamCallback) (*Result, error)
}

// Reasoner is implemented by clients that can route a conversation to a
// reasoning model and return its chain of thought separately.
type Reasoner interface {
	Reason(ctx context.Context, messages []Message) (*Result, error)
	ReasonStream(ctx context.Context, messages []Message, cb StreamCallback) (*Result, error)
}

// ModelSwitcher is implemented by clients whose model can change between calls.
type ModelSwitcher interface {
	Model() string
	SetModel(model string)
}

// Estimator counts tokens and prices them when a backend does not report usage.
type Estimator interface {
	CountTokens(ctx context.Context, text, model string) int
	EstimateCost(ctx context.Context, promptTokens, completionTokens int, model string) float64
}

// Settings configures a Client. Zero values are replaced by defaults.
type Settings struct {
	UseLocal    bool
	Model       string
	APIKey      string
	APIURL      string
	OllamaHost  string
	MaxTokens   int
	Temperature float64

	// RequestsPerMinute paces cloud requests client-side; 0 disables pacing.
	RequestsPerMinute int

	CloudTimeout       time.Duration
	CloudStreamTimeout time.Duration
	LocalTimeout       time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.APIURL == "" {
		s.APIURL = DefaultCloudURL
	}
	if s.OllamaHost == "" {
		s.OllamaHost = DefaultOllamaHost
	}
	s.OllamaHost = strings.TrimRight(s.OllamaHost, "/")
	if s.CloudTimeout == 0 {
		s.CloudTimeout = DefaultCloudTimeout
	}
	if s.CloudStreamTimeout == 0 {
		s.CloudStreamTimeout = DefaultCloudStreamTimeout
	}
	if s.LocalTimeout == 0 {
		s.LocalTimeout = DefaultLocalTimeout
	}
	return s
}

// New returns the local or cloud client selected by s.UseLocal.
// A nil estimator falls back to the built-in token approximation.
func New(s Settings, est Estimator, logger *slog.Logger) Client {
	if s.UseLocal {
		c := NewLocalClient(s, est)
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
	c := NewCloudClient(s, est)
	if logger != nil {
		c.Logger = logger
	}
	return c
}

func defaultEstimator(est Estimator) Estimator {
	if est == nil {
		return tokens.NewEstimator(nil, tokens.PeriodStandard, nil)
	}
	return est
}

// resolveUsage fills all four usage fields. Provider counts win when present;
// cost is always estimated unless the provider priced the call.
func resolveUsage(ctx context.Context, est Estimator, reported *Usage, messages []Message, content, model string) *Usage {
	var u Usage
	if reported != nil && (reported.PromptTokens > 0 || reported.CompletionTokens > 0) {
		u.PromptTokens = reported.PromptTokens
		u.CompletionTokens = reported.CompletionTokens
	} else {
		u.PromptTokens = est.CountTokens(ctx, promptText(messages), model)
		u.CompletionTokens = est.CountTokens(ctx, content, model)
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	if reported != nil && reported.EstimatedCost > 0 {
		u.EstimatedCost = reported.EstimatedCost
	} else {
		u.EstimatedCost = est.EstimateCost(ctx, u.PromptTokens, u.CompletionTokens, model)
	}
	return &u
}

func promptText(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

func readErrorBody(resp *http.Response) []byte {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return body
}

func copyMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
