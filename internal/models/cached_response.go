package models

import (
	"time"

	"github.com/google/uuid"
)

// CachedResponse is a raw provider response in ai_response_cache.
// Rows are never updated; a newer row supersedes an older one.
type CachedResponse struct {
	ID                uuid.UUID `db:"id" json:"id"`
	UserID            string    `db:"user_id" json:"user_id"`
	Feature           Feature   `db:"feature" json:"feature"`
	PromptFingerprint string    `db:"prompt_fingerprint" json:"prompt_fingerprint"`
	Response          string    `db:"response" json:"response"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}
