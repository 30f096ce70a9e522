// Package usage accumulates token usage and cost across a session.
package usage

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/holasoymalva/deepseek-cli/internal/llm"
)

// Totals is a snapshot of accumulated usage.
type Totals struct {
	SessionID    string
	Usage        llm.Usage
	RequestCount int
	ModelsUsed   map[string]int
	FirstRequest time.Time
	LastRequest  time.Time
}

// String returns a human-readable summary of the totals.
func (t Totals) String() string {
	if t.RequestCount == 0 {
		return "No usage recorded yet."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s\n", shortID(t.SessionID))
	fmt.Fprintf(&sb, "Requests: %d\n", t.RequestCount)
	fmt.Fprintf(&sb, "Tokens: %d (prompt %d, completion %d)\n",
		t.Usage.TotalTokens, t.Usage.PromptTokens, t.Usage.CompletionTokens)
	fmt.Fprintf(&sb, "Estimated cost: $%.6f\n", t.Usage.EstimatedCost)
	for _, model := range slices.Sorted(maps.Keys(t.ModelsUsed)) {
		fmt.Fprintf(&sb, "  %s: %d requests\n", model, t.ModelsUsed[model])
	}
	if !t.FirstRequest.IsZero() {
		fmt.Fprintf(&sb, "Duration: %s\n", t.LastRequest.Sub(t.FirstRequest).Round(time.Second))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Line formats a single call's usage for display after a turn.
func Line(u *llm.Usage) string {
	if u == nil {
		return ""
	}
	return fmt.Sprintf("Tokens: %d (prompt %d, completion %d) | Estimated cost: $%.6f",
		u.TotalTokens, u.PromptTokens, u.CompletionTokens, u.EstimatedCost)
}

// Tracker is a monotonic accumulator of usage for one process.
type Tracker struct {
	mu     sync.RWMutex
	totals Totals
	now    func() time.Time
}

// NewTracker creates a tracker with a fresh session ID.
func NewTracker() *Tracker {
	return &Tracker{
		totals: Totals{
			SessionID:  uuid.NewString(),
			ModelsUsed: make(map[string]int),
		},
		now: time.Now,
	}
}

// Record adds one call's usage. A nil usage still counts the request.
func (t *Tracker) Record(model string, u *llm.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.totals.FirstRequest.IsZero() {
		t.totals.FirstRequest = now
	}
	t.totals.LastRequest = now
	t.totals.RequestCount++
	if model != "" {
		t.totals.ModelsUsed[model]++
	}
	if u == nil {
		return
	}
	add := *u
	// negative values would break monotonicity
	add.PromptTokens = max(add.PromptTokens, 0)
	add.CompletionTokens = max(add.CompletionTokens, 0)
	add.TotalTokens = add.PromptTokens + add.CompletionTokens
	add.EstimatedCost = max(add.EstimatedCost, 0)
	t.totals.Usage = t.totals.Usage.Add(add)
}

// Totals returns a copy of the accumulated totals.
func (t *Tracker) Totals() Totals {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := t.totals
	out.ModelsUsed = make(map[string]int, len(t.totals.ModelsUsed))
	for k, v := range t.totals.ModelsUsed {
		out.ModelsUsed[k] = v
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
