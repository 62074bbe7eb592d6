// Package settings serves the admin-editable AI settings. Readers get a
// snapshot value, cached briefly, so one request sees one consistent view.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/clock"
	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/storage"
)

// DefaultTTL is how long a snapshot is reused before the row is re-read
const DefaultTTL = 30 * time.Second

const snapshotKey = "ai_settings"

// Repository persists the settings row
type Repository interface {
	Get(ctx context.Context) (*models.AISettings, error)
	Upsert(ctx context.Context, s *models.AISettings) error
}

// Store reads settings through a short-lived cache
type Store struct {
	repo     Repository
	defaults models.AISettings
	cache    *storage.LRUCache[models.AISettings]
	clock    clock.Clock
	logger   *zap.Logger
}

// NewStore creates a store. defaults apply until an admin saves settings.
func NewStore(repo Repository, defaults models.AISettings, ttl time.Duration, clk clock.Clock, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		repo:     repo,
		defaults: defaults,
		cache:    storage.NewLRUCache[models.AISettings](1, ttl, clk),
		clock:    clk,
		logger:   logger.Named("settings"),
	}
}

// Snapshot returns the current settings by value. A missing row yields the
// defaults; any other read error is returned.
func (s *Store) Snapshot(ctx context.Context) (models.AISettings, error) {
	if cached, ok := s.cache.Get(snapshotKey); ok {
		return cached, nil
	}

	row, err := s.repo.Get(ctx)
	if errors.Is(err, storage.ErrSettingsNotFound) {
		s.cache.Set(snapshotKey, s.defaults)
		return s.defaults, nil
	}
	if err != nil {
		return models.AISettings{}, fmt.Errorf("load AI settings: %w", err)
	}

	s.cache.Set(snapshotKey, *row)
	return *row, nil
}

// Update saves new settings and makes them visible immediately
func (s *Store) Update(ctx context.Context, next models.AISettings) (models.AISettings, error) {
	if next.Model == "" {
		return models.AISettings{}, errors.New("model is required")
	}
	if next.MaxTokens <= 0 {
		return models.AISettings{}, errors.New("max tokens must be positive")
	}
	if next.MonthlyBudgetUSD < 0 {
		return models.AISettings{}, errors.New("monthly budget must not be negative")
	}

	next.UpdatedAt = s.clock.Now()
	if err := s.repo.Upsert(ctx, &next); err != nil {
		return models.AISettings{}, err
	}

	s.cache.Set(snapshotKey, next)
	s.logger.Info("AI settings updated",
		zap.Bool("enabled", next.Enabled),
		zap.String("model", next.Model),
		zap.Int("max_tokens", next.MaxTokens),
		zap.Float64("monthly_budget_usd", float64(next.MonthlyBudgetUSD)))

	return next, nil
}
