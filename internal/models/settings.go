package models

import "time"

// AISettings is the admin-editable AI configuration (ai_settings table, single row).
// A request works on a copy taken once, never on the live row.
type AISettings struct {
	Enabled          bool      `db:"enabled" json:"enabled"`
	Model            string    `db:"model" json:"model"`
	MaxTokens        int       `db:"max_tokens" json:"max_tokens"`
	MonthlyBudgetUSD USD       `db:"monthly_budget_usd" json:"monthly_budget_usd"` // 0 = unlimited
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}
