package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jobboard/aicredits/internal/models"
)

// SettingsRepository reads and writes the single ai_settings row
type SettingsRepository struct {
	db *DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the stored settings or ErrSettingsNotFound
func (r *SettingsRepository) Get(ctx context.Context) (*models.AISettings, error) {
	var s models.AISettings
	err := r.db.conn.GetContext(ctx, &s, `
		SELECT enabled, model, max_tokens, monthly_budget_usd, updated_at
		FROM ai_settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get AI settings: %w", err)
	}
	return &s, nil
}

// Upsert replaces the settings row
func (r *SettingsRepository) Upsert(ctx context.Context, s *models.AISettings) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.conn.ExecContext(ctx, r.db.rebind(`
		INSERT INTO ai_settings (id, enabled, model, max_tokens, monthly_budget_usd, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET enabled = excluded.enabled,
		    model = excluded.model,
		    max_tokens = excluded.max_tokens,
		    monthly_budget_usd = excluded.monthly_budget_usd,
		    updated_at = excluded.updated_at`),
		s.Enabled, s.Model, s.MaxTokens, s.MonthlyBudgetUSD, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save AI settings: %w", err)
	}
	return nil
}
