package models

import "time"

// Outcome is how an orchestrated cycle ended.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeParseError    Outcome = "parse_error"
	OutcomeFlagged       Outcome = "flagged"
	OutcomeProviderError Outcome = "provider_error"
	OutcomePersistError  Outcome = "persist_error"
)

// AuditEntry records the raw outcome of one provider invocation.
type AuditEntry struct {
	ID            string    `json:"id"`
	RunID         string    `json:"run_id"`
	CredentialID  int64     `json:"credential_id"`
	Environment   string    `json:"environment"`
	Operation     Operation `json:"operation"`
	PromptName    string    `json:"prompt_name,omitempty"`
	PromptVersion uint16    `json:"prompt_version,omitempty"`
	ItemIDs       []int64   `json:"item_ids"`
	Outcome       Outcome   `json:"outcome"`
	Content       string    `json:"content,omitempty"`
	Error         string    `json:"error,omitempty"`
	TotalTokens   int64     `json:"total_tokens"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool `yaml:"enabled" toml:"enabled"`
	RetentionDays int  `yaml:"retention_days" toml:"retention_days"`
	MaxBodySize   int  `yaml:"max_body_size" toml:"max_body_size"` // bytes
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	ID         string
	RunID      string
	PromptName string
	Outcome    Outcome
	Since      time.Time
	Limit      int
}

// AuditStat holds aggregate audit counts for an outcome/day combination.
type AuditStat struct {
	Outcome Outcome
	Day     string
	Count   int
}
