package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jobboard/aicredits/internal/models"
)

// UsageRepository writes the ai_usage_log table
type UsageRepository struct {
	db *DB
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB) *UsageRepository {
	return &UsageRepository{db: db}
}

const insertUsageQuery = `
	INSERT INTO ai_usage_log (
		id, request_id, user_id, endpoint, model,
		input_tokens, output_tokens, token_count, cost_usd, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (request_id) DO NOTHING`

// Create inserts one usage record. A record whose request ID was already
// logged is ignored, so redelivered queue items are harmless.
func (r *UsageRepository) Create(ctx context.Context, record *models.UsageRecord) error {
	prepareUsageRecord(record)
	if _, err := r.db.conn.ExecContext(ctx, r.db.rebind(insertUsageQuery), usageArgs(record)...); err != nil {
		return fmt.Errorf("failed to create usage record: %w", err)
	}
	return nil
}

// CreateBatch inserts records in a single transaction
func (r *UsageRepository) CreateBatch(ctx context.Context, records []*models.UsageRecord) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := r.db.rebind(insertUsageQuery)
		for _, record := range records {
			prepareUsageRecord(record)
			if _, err := tx.ExecContext(ctx, query, usageArgs(record)...); err != nil {
				return fmt.Errorf("failed to insert record: %w", err)
			}
		}
		return nil
	})
}

// TotalCost returns the summed provider cost for records created in [from, to)
func (r *UsageRepository) TotalCost(ctx context.Context, from, to time.Time) (models.USD, error) {
	var total float64
	err := r.db.conn.GetContext(ctx, &total, r.db.rebind(`
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM ai_usage_log
		WHERE created_at >= ? AND created_at < ?`), from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to get total cost: %w", err)
	}
	return models.USD(total), nil
}

// ListByUser returns a user's usage records, newest first
func (r *UsageRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.UsageRecord
	err := r.db.conn.SelectContext(ctx, &records, r.db.rebind(`
		SELECT id, request_id, user_id, endpoint, model,
		       input_tokens, output_tokens, token_count, cost_usd, created_at
		FROM ai_usage_log
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}

func prepareUsageRecord(record *models.UsageRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.RequestID == uuid.Nil {
		record.RequestID = record.ID
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.TokenCount == 0 {
		record.TokenCount = record.InputTokens + record.OutputTokens
	}
}

func usageArgs(record *models.UsageRecord) []any {
	return []any{
		record.ID, record.RequestID, record.UserID, record.Endpoint, record.Model,
		record.InputTokens, record.OutputTokens, record.TokenCount, record.CostUSD, record.CreatedAt,
	}
}
