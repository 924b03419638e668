package models

import "time"

// Item is a statement that can be classified or embedded.
type Item struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
}

// InvocationResult is one completion response from a provider.
type InvocationResult struct {
	Environment      EnvironmentDescriptor `json:"environment"`
	Identity         PromptIdentity        `json:"identity"`
	Content          string                `json:"content"`
	PromptTokens     int64                 `json:"prompt_tokens"`
	CompletionTokens int64                 `json:"completion_tokens"`
	TotalTokens      int64                 `json:"total_tokens"`
}

// PredictionRecord is a cached prediction, unique on (ItemID, PromptName, PromptVersion).
// Rows are written once and never mutated.
type PredictionRecord struct {
	ItemID           int64     `json:"item_id"`
	Environment      string    `json:"environment"`
	PromptName       string    `json:"prompt_name"`
	PromptVersion    uint16    `json:"prompt_version"`
	Result           string    `json:"result"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	CredentialID     int64     `json:"credential_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// EmbeddingRecord holds the single embedding computed for an item.
type EmbeddingRecord struct {
	ItemID       int64     `json:"item_id"`
	Vector       []float64 `json:"vector"`
	PromptTokens int64     `json:"prompt_tokens"`
	CredentialID int64     `json:"credential_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// FlagState describes the moderation status of an item.
type FlagState int

const (
	// FlagClear means no flags.
	FlagClear FlagState = 0
	// FlagMaybe means the item was part of a flagged batch and needs a check on its own.
	FlagMaybe FlagState = 1
	// FlagFlagged means the item itself was flagged.
	FlagFlagged FlagState = 2
)

func (s FlagState) String() string {
	switch s {
	case FlagMaybe:
		return "maybe_flagged"
	case FlagFlagged:
		return "flagged"
	default:
		return "clear"
	}
}

// FlagCategory is one moderation category and whether it fired.
type FlagCategory struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

// FlagRecord is the moderation cache entry for an item.
type FlagRecord struct {
	ItemID     int64          `json:"item_id"`
	State      FlagState      `json:"state"`
	Categories []FlagCategory `json:"categories"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Credential is the persisted reference to an API key. The raw key is never stored.
type Credential struct {
	ID   int64  `json:"id"`
	Hash string `json:"hash"`
	Note string `json:"note,omitempty"`
}
