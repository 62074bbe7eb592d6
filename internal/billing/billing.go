package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/clock"
	"github.com/jobboard/aicredits/internal/models"
)

// SpendTracker keeps the running provider cost for the current calendar
// month (UTC) and enforces the global AI budget.
type SpendTracker interface {
	// WithinBudget reports whether spend is below budget. A budget <= 0 is
	// unlimited. Tracker failures allow the request.
	WithinBudget(ctx context.Context, budget models.USD) bool
	AddUsage(ctx context.Context, cost models.USD) error
	MonthlySpend(ctx context.Context) (models.USD, error)
}

// SpendResetter is implemented by trackers whose monthly counter can be
// cleared by an operator, e.g. after a budget is raised mid-month.
type SpendResetter interface {
	ResetMonthlySpend(ctx context.Context) error
}

// NoopSpendTracker does not enforce budgets and discards usage.
type NoopSpendTracker struct{}

func NewNoopSpendTracker() *NoopSpendTracker {
	return &NoopSpendTracker{}
}

func (NoopSpendTracker) WithinBudget(ctx context.Context, budget models.USD) bool { return true }

func (NoopSpendTracker) AddUsage(ctx context.Context, cost models.USD) error { return nil }

func (NoopSpendTracker) MonthlySpend(ctx context.Context) (models.USD, error) { return 0, nil }

// Keep two months of counters so the previous month stays inspectable.
const spendKeyTTL = 60 * 24 * time.Hour

var addSpendScript = redis.NewScript(`
	local key = KEYS[1]
	local cost = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local current = tonumber(redis.call('GET', key)) or 0
	local new_total = current + cost

	redis.call('SET', key, tostring(new_total), 'EX', ttl)
	return tostring(new_total)
`)

// RedisSpendTracker tracks monthly spend in Redis
type RedisSpendTracker struct {
	redis  *redis.Client
	clock  clock.Clock
	logger *zap.Logger
}

// NewRedisSpendTracker creates a Redis-backed spend tracker
func NewRedisSpendTracker(client *redis.Client, clk clock.Clock, logger *zap.Logger) *RedisSpendTracker {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSpendTracker{redis: client, clock: clk, logger: logger.Named("spend")}
}

func (s *RedisSpendTracker) WithinBudget(ctx context.Context, budget models.USD) bool {
	if budget <= 0 {
		return true
	}

	spent, err := s.MonthlySpend(ctx)
	if err != nil {
		s.logger.Warn("monthly spend unavailable, allowing request", zap.Error(err))
		return true
	}

	return spent < budget
}

// AddUsage adds cost to the current month's total atomically
func (s *RedisSpendTracker) AddUsage(ctx context.Context, cost models.USD) error {
	if cost <= 0 {
		return nil
	}

	key := monthlyKey(s.clock.Now())
	err := addSpendScript.Run(ctx, s.redis, []string{key}, float64(cost), int(spendKeyTTL.Seconds())).Err()
	if err != nil {
		return fmt.Errorf("failed to add usage: %w", err)
	}

	return nil
}

// MonthlySpend returns the current month's spend
func (s *RedisSpendTracker) MonthlySpend(ctx context.Context) (models.USD, error) {
	return s.Spending(ctx, s.clock.Now())
}

// Spending returns the spend recorded for the month containing t
func (s *RedisSpendTracker) Spending(ctx context.Context, t time.Time) (models.USD, error) {
	val, err := s.redis.Get(ctx, monthlyKey(t)).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get monthly spending: %w", err)
	}

	return models.USD(val), nil
}

// ResetMonthlySpend clears the current month's counter
func (s *RedisSpendTracker) ResetMonthlySpend(ctx context.Context) error {
	return s.redis.Del(ctx, monthlyKey(s.clock.Now())).Err()
}

func monthlyKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("aispend:%d:%02d", t.Year(), int(t.Month()))
}

// CostSource sums logged provider cost over a time range
type CostSource interface {
	TotalCost(ctx context.Context, from, to time.Time) (models.USD, error)
}

// LedgerSpendTracker derives monthly spend from the usage log. It is used
// when Redis is not configured. AddUsage is a no-op because the usage
// worker already writes the log; spend therefore lags by the queue delay.
type LedgerSpendTracker struct {
	source CostSource
	clock  clock.Clock
	logger *zap.Logger
}

// NewLedgerSpendTracker creates a spend tracker backed by the usage log
func NewLedgerSpendTracker(source CostSource, clk clock.Clock, logger *zap.Logger) *LedgerSpendTracker {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerSpendTracker{source: source, clock: clk, logger: logger.Named("spend")}
}

func (s *LedgerSpendTracker) WithinBudget(ctx context.Context, budget models.USD) bool {
	if budget <= 0 {
		return true
	}
	spent, err := s.MonthlySpend(ctx)
	if err != nil {
		s.logger.Warn("monthly spend unavailable, allowing request", zap.Error(err))
		return true
	}
	return spent < budget
}

func (s *LedgerSpendTracker) AddUsage(ctx context.Context, cost models.USD) error { return nil }

func (s *LedgerSpendTracker) MonthlySpend(ctx context.Context) (models.USD, error) {
	now := s.clock.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.source.TotalCost(ctx, start, start.AddDate(0, 1, 0))
}
