package models

// ModelPricing defines per-1K token costs for a model.
type ModelPricing struct {
	Model          string  `json:"model" yaml:"model" toml:"model"`
	PromptCost     float64 `json:"prompt_cost_per_1k" yaml:"prompt_cost_per_1k" toml:"prompt_cost_per_1k"`
	CompletionCost float64 `json:"completion_cost_per_1k" yaml:"completion_cost_per_1k" toml:"completion_cost_per_1k"`
}

// Cost returns the estimated cost of the given token counts.
func (p ModelPricing) Cost(promptTokens, completionTokens int64) float64 {
	return (float64(promptTokens)/1000)*p.PromptCost + (float64(completionTokens)/1000)*p.CompletionCost
}
