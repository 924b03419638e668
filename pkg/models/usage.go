package models

import "time"

// Usage represents token usage from an LLM response.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Operation names the provider endpoint an invocation used.
type Operation string

const (
	OpCompletion Operation = "completion"
	OpEmbedding  Operation = "embedding"
	OpModeration Operation = "moderation"
)

// UsageRecord tracks per-invocation token usage.
type UsageRecord struct {
	ID               int64     `json:"id"`
	CredentialID     int64     `json:"credential_id"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	Operation        Operation `json:"operation"`
	PromptName       string    `json:"prompt_name,omitempty"`
	PromptVersion    uint16    `json:"prompt_version,omitempty"`
	Items            int       `json:"items"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageSummary aggregates usage across invocations.
type UsageSummary struct {
	Operation       Operation `json:"operation"`
	Model           string    `json:"model"`
	PromptName      string    `json:"prompt_name"`
	PromptVersion   uint16    `json:"prompt_version"`
	Invocations     int       `json:"invocations"`
	Items           int64     `json:"items"`
	TotalPrompt     int64     `json:"total_prompt"`
	TotalCompletion int64     `json:"total_completion"`
	TotalTokens     int64     `json:"total_tokens"`
	EstimatedCost   float64   `json:"estimated_cost"`
}
