package metrics

// pricing estimates request cost in USD from token counts using a
// per-model USD-per-million-tokens table covering both provider families;
// unknown models fall back to a flat per-request estimate.

// modelRate is USD per million tokens.
type modelRate struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

var modelPricing = map[string]modelRate{
	// Anthropic
	"claude-sonnet-4-20250514":  {3.00, 15.00},
	"claude-opus-4-20250514":    {15.00, 75.00},
	"claude-3-5-sonnet-20241022": {3.00, 15.00},
	"claude-3-5-sonnet-latest":  {3.00, 15.00},
	"claude-3-5-haiku-20241022": {0.80, 4.00},
	"claude-3-5-haiku-latest":   {0.80, 4.00},
	"claude-3-opus-20240229":    {15.00, 75.00},
	"claude-3-sonnet-20240229":  {3.00, 15.00},
	"claude-3-haiku-20240307":   {0.25, 1.25},

	// OpenRouter-fronted OpenAI models
	"openai/gpt-4o":      {2.50, 10.00},
	"openai/gpt-4o-mini": {0.15, 0.60},
}

// defaultCostPerRequest is charged when the model has no pricing entry.
const defaultCostPerRequest = 0.01

// estimateCost returns the estimated USD cost of a completed attempt.
func estimateCost(model string, inputTokens, outputTokens int) float64 {
	rate, ok := modelPricing[model]
	if !ok {
		return defaultCostPerRequest
	}
	inputCost := float64(inputTokens) / 1_000_000 * rate.InputPerMillion
	outputCost := float64(outputTokens) / 1_000_000 * rate.OutputPerMillion
	return inputCost + outputCost
}
