package providers

import "math"

// ModelPrice is USD per one million tokens.
type ModelPrice struct {
	Input  float64
	Output float64
}

// Prices is the static price table. Update it to your contracted rates;
// models missing from it are costed at 0.
var Prices = map[string]ModelPrice{
	"claude-3-haiku-20240307":    {Input: 0.25, Output: 1.25},
	"claude-3-sonnet-20240229":   {Input: 3, Output: 15},
	"claude-3-opus-20240229":     {Input: 15, Output: 75},
	"claude-3-5-haiku-20241022":  {Input: 0.80, Output: 4},
	"claude-3-5-sonnet-20241022": {Input: 3, Output: 15},
	"claude-haiku-4-5-20251001":  {Input: 1, Output: 5},
	"claude-sonnet-4-5-20250929": {Input: 3, Output: 15},
	"claude-opus-4-5-20251101":   {Input: 5, Output: 25},
}

// EstimateCostUSD prices a call. Unknown models and non-finite results cost 0.
func EstimateCostUSD(model string, inputTokens, outputTokens int) float64 {
	p, ok := Prices[model]
	if !ok {
		return 0
	}
	cost := float64(inputTokens)/1_000_000*p.Input + float64(outputTokens)/1_000_000*p.Output
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return 0
	}
	return cost
}
