package tokens

import "time"

// Pricing periods.
const (
	PeriodStandard = "standard"
	PeriodDiscount = "discount"
	PeriodAuto     = "auto"
)

// FallbackRate is the per-token USD price used when nothing better is known.
const FallbackRate = 0.0001

// Rate is a per-token USD price.
type Rate struct {
	Input  float64
	Output float64
}

// Cost prices prompt and completion tokens at r.
func (r Rate) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)*r.Input + float64(completionTokens)*r.Output
}

func perMillion(input, output float64) Rate {
	return Rate{Input: input / 1e6, Output: output / 1e6}
}

// DefaultPricing holds DeepSeek list prices (cache-miss input) by model and period.
var DefaultPricing = map[string]map[string]Rate{
	"deepseek-chat": {
		PeriodStandard: perMillion(0.27, 1.10),
		PeriodDiscount: perMillion(0.135, 0.550),
	},
	"deepseek-reasoner": {
		PeriodStandard: perMillion(0.55, 2.19),
		PeriodDiscount: perMillion(0.135, 0.550),
	},
}

// Period returns the pricing period in effect at t. DeepSeek discounts
// requests made between 16:30 and 00:30 UTC.
func Period(t time.Time) string {
	t = t.UTC()
	minutes := t.Hour()*60 + t.Minute()
	if minutes >= 16*60+30 || minutes < 30 {
		return PeriodDiscount
	}
	return PeriodStandard
}

// ResolvePeriod maps "auto" (or empty) to the period in effect now.
func ResolvePeriod(period string, now time.Time) string {
	switch period {
	case PeriodStandard, PeriodDiscount:
		return period
	default:
		return Period(now)
	}
}
