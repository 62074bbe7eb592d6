package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one AI provider call in the ai_usage_log table.
// UserID is nil for guest callers.
type UsageRecord struct {
	ID           uuid.UUID `db:"id" json:"id"`
	RequestID    uuid.UUID `db:"request_id" json:"request_id"`
	UserID       *string   `db:"user_id" json:"user_id,omitempty"`
	Endpoint     string    `db:"endpoint" json:"endpoint"`
	Model        string    `db:"model" json:"model"`
	InputTokens  int       `db:"input_tokens" json:"input_tokens"`
	OutputTokens int       `db:"output_tokens" json:"output_tokens"`
	TokenCount   int       `db:"token_count" json:"token_count"`
	CostUSD      USD       `db:"cost_usd" json:"cost_usd"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// TokenUsage is the token accounting returned by a provider.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CachedTokens int `json:"cached_tokens,omitempty"`
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}
