package tokens

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Estimator counts tokens and estimates cost. Every call is independent;
// the only shared state is a cache of per-token rates learned from the
// counter, so an Estimator is safe for concurrent use.
type Estimator struct {
	counter Counter
	period  string
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	rates map[string]Rate
}

// NewEstimator creates an Estimator. A nil counter means every count uses
// the local approximation. period is "standard", "discount" or "auto".
func NewEstimator(counter Counter, period string, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return &Estimator{
		counter: counter,
		period:  period,
		logger:  logger,
		now:     time.Now,
		rates:   make(map[string]Rate),
	}
}

// Period returns the pricing period currently in effect.
func (e *Estimator) Period() string {
	return ResolvePeriod(e.period, e.now())
}

// CountTokens returns the token count for text under model.
func (e *Estimator) CountTokens(ctx context.Context, text, model string) int {
	return e.Report(ctx, Request{Text: text, Model: model}).TokenCount
}

// Report counts req with the external counter, falling back to a
// synthesized approximate report when the counter is missing or fails.
func (e *Estimator) Report(ctx context.Context, req Request) *Report {
	if req.Period == "" {
		req.Period = e.Period()
	}
	if e.counter != nil {
		report, err := e.counter(ctx, req)
		if err == nil {
			e.learn(req.Model, req.Period, report)
			return report
		}
		e.logger.Debug("token counter failed, using approximation", "model", req.Model, "error", err)
	}

	text := req.Text
	if req.File != "" {
		data, err := os.ReadFile(req.File)
		if err != nil {
			e.logger.Debug("read file for token count", "file", req.File, "error", err)
		}
		text = string(data)
	}
	n := ApproxTokens(text)
	rate := e.rate(req.Model, req.Period)
	return &Report{
		TokenCount: n,
		Model:      req.Model,
		TimePeriod: req.Period,
		Approx:     true,
		Costs: Costs{
			InputCacheMiss:   float64(n) * rate.Input,
			OutputSameLength: float64(n) * rate.Output,
			TotalCacheMiss:   float64(n) * (rate.Input + rate.Output),
		},
	}
}

// EstimateCost prices a call in USD. Rates learned from the counter win over
// the built-in price list; unknown models use FallbackRate per token.
func (e *Estimator) EstimateCost(_ context.Context, promptTokens, completionTokens int, model string) float64 {
	return e.rate(model, e.Period()).Cost(promptTokens, completionTokens)
}

func (e *Estimator) rate(model, period string) Rate {
	e.mu.Lock()
	r, ok := e.rates[rateKey(model, period)]
	e.mu.Unlock()
	if ok {
		return r
	}
	if byPeriod, ok := DefaultPricing[model]; ok {
		if r, ok := byPeriod[period]; ok {
			return r
		}
		return byPeriod[PeriodStandard]
	}
	return Rate{Input: FallbackRate, Output: FallbackRate}
}

// learn derives per-token rates from a counter report.
func (e *Estimator) learn(model, period string, report *Report) {
	if report.TokenCount <= 0 || report.Costs.InputCacheMiss <= 0 {
		return
	}
	n := float64(report.TokenCount)
	e.mu.Lock()
	e.rates[rateKey(model, period)] = Rate{
		Input:  report.Costs.InputCacheMiss / n,
		Output: report.Costs.OutputSameLength / n,
	}
	e.mu.Unlock()
}

func rateKey(model, period string) string {
	return model + "/" + period
}
