package anthropic

import (
	"strings"

	"go.uber.org/zap"
)

// price is the per-million-token rate for one model.
type price struct {
	input  float64
	output float64
}

var modelPricing = map[string]price{
	"claude-haiku-4-5-20251001":  {input: 0.80, output: 4.00},
	"claude-sonnet-4-5-20250929": {input: 3.00, output: 15.00},
	"claude-opus-4-6":            {input: 15.00, output: 75.00},
}

// Cache writes bill at a premium over input; cache reads at a discount.
const (
	cacheWriteMultiplier = 1.25
	cacheReadMultiplier  = 0.1
)

// priceFor resolves a model ID or its undated alias
// ("claude-haiku-4-5" for "claude-haiku-4-5-20251001").
func priceFor(model string) (price, bool) {
	if p, ok := modelPricing[model]; ok {
		return p, true
	}
	for id, p := range modelPricing {
		if strings.HasPrefix(id, model+"-") {
			return p, true
		}
	}
	return price{}, false
}

// EstimateCost computes an estimated cost in USD. Unknown models cost 0.
func (u TokenUsage) EstimateCost(model string) float64 {
	p, ok := priceFor(model)
	if !ok {
		return 0
	}
	perTok := func(n int64, rate float64) float64 { return float64(n) / 1e6 * rate }
	return perTok(u.InputTokens, p.input) +
		perTok(u.OutputTokens, p.output) +
		perTok(u.CacheCreationInputTokens, p.input*cacheWriteMultiplier) +
		perTok(u.CacheReadInputTokens, p.input*cacheReadMultiplier)
}

// LogCost logs token usage and estimated cost for one call. Phase names the
// workflow step that made it ("decompose", "prime", "extract").
func (u TokenUsage) LogCost(model, phase string) {
	zap.L().Info("cost attribution",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", u.EstimateCost(model)),
	)
}
