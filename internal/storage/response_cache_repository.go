package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jobboard/aicredits/internal/models"
)

// ResponseCacheRepository persists raw provider responses in ai_response_cache.
// Rows are append-only; the newest row for a key wins.
type ResponseCacheRepository struct {
	db *DB
}

// NewResponseCacheRepository creates a new cached-response repository
func NewResponseCacheRepository(db *DB) *ResponseCacheRepository {
	return &ResponseCacheRepository{db: db}
}

// Insert stores a response. CreatedAt must be set by the caller.
func (r *ResponseCacheRepository) Insert(ctx context.Context, entry *models.CachedResponse) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO ai_response_cache (id, user_id, feature, prompt_fingerprint, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		entry.ID, entry.UserID, entry.Feature, entry.PromptFingerprint, entry.Response, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cached response: %w", err)
	}
	return nil
}

// Latest returns the newest row for the key, fresh or not. The caller
// decides freshness.
func (r *ResponseCacheRepository) Latest(ctx context.Context, userID string, feature models.Feature, fingerprint string) (*models.CachedResponse, error) {
	var entry models.CachedResponse
	err := r.db.conn.GetContext(ctx, &entry, r.db.rebind(`
		SELECT id, user_id, feature, prompt_fingerprint, response, created_at
		FROM ai_response_cache
		WHERE user_id = ? AND feature = ? AND prompt_fingerprint = ?
		ORDER BY created_at DESC
		LIMIT 1`), userID, feature, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCachedResponseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached response: %w", err)
	}
	return &entry, nil
}
