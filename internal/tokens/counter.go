// Package tokens estimates token counts and API cost, delegating to an
// external token counter when one is available.
package tokens

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Request describes one counting job. Exactly one of Text or File is used.
type Request struct {
	Text   string
	File   string
	Model  string
	Period string
}

// Costs is the cost breakdown reported by the counter, in USD.
type Costs struct {
	InputCacheHit    float64 `json:"input_cache_hit"`
	InputCacheMiss   float64 `json:"input_cache_miss"`
	OutputSameLength float64 `json:"output_same_length"`
	TotalCacheHit    float64 `json:"total_cache_hit"`
	TotalCacheMiss   float64 `json:"total_cache_miss"`
}

// Report is the machine-readable counter output.
type Report struct {
	TokenCount int    `json:"token_count"`
	Model      string `json:"model"`
	TimePeriod string `json:"time_period"`
	Costs      Costs  `json:"costs"`
	// Approx is set when the report came from the local approximation.
	Approx bool `json:"approx,omitempty"`
}

// Counter counts tokens for a request. It is swappable for an in-process
// tokenizer without touching callers.
type Counter func(ctx context.Context, req Request) (*Report, error)

// ScriptCounter runs the DeepSeek V3 token_counter.py script.
type ScriptCounter struct {
	Python  string
	Script  string
	Timeout time.Duration
}

// DefaultScriptTimeout bounds a single counter invocation.
const DefaultScriptTimeout = 10 * time.Second

// Count runs the script with --json and parses its output.
func (s ScriptCounter) Count(ctx context.Context, req Request) (*Report, error) {
	if s.Script == "" {
		return nil, errors.New("token counter script not configured")
	}
	if _, err := os.Stat(s.Script); err != nil {
		return nil, fmt.Errorf("token counter script: %w", err)
	}
	python := s.Python
	if python == "" {
		python = "python3"
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = DefaultScriptTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, python, s.args(req)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run token counter: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var report Report
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return nil, fmt.Errorf("parse token counter output: %w", err)
	}
	if report.TokenCount < 0 {
		return nil, fmt.Errorf("token counter returned negative count %d", report.TokenCount)
	}
	return &report, nil
}

func (s ScriptCounter) args(req Request) []string {
	args := []string{s.Script}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.Period != "" {
		args = append(args, "--time", req.Period)
	}
	args = append(args, "--json")
	if req.File != "" {
		return append(args, "--file", req.File)
	}
	return append(args, "--", req.Text)
}

// ApproxTokens approximates a token count as ceil(words * 1.3).
func ApproxTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*13 + 9) / 10
}

// String formats the report the way the tokens command prints it.
func (r *Report) String() string {
	var sb strings.Builder
	count := fmt.Sprintf("%d", r.TokenCount)
	if r.Approx {
		count = "~" + count + " (approximate)"
	}
	fmt.Fprintf(&sb, "Tokens: %s\n", count)
	if r.Model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", r.Model)
	}
	if r.TimePeriod != "" {
		fmt.Fprintf(&sb, "Pricing period: %s\n", r.TimePeriod)
	}
	sb.WriteString("Estimated cost (USD):\n")
	if r.Costs.InputCacheHit > 0 {
		fmt.Fprintf(&sb, "  Input (cache hit):   $%.6f\n", r.Costs.InputCacheHit)
	}
	fmt.Fprintf(&sb, "  Input (cache miss):  $%.6f\n", r.Costs.InputCacheMiss)
	fmt.Fprintf(&sb, "  Output (same size):  $%.6f\n", r.Costs.OutputSameLength)
	fmt.Fprintf(&sb, "  Total (cache miss):  $%.6f", r.Costs.TotalCacheMiss)
	return sb.String()
}
