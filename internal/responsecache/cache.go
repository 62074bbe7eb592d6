// Package responsecache remembers a user's AI responses for a day so an
// identical request is answered without calling the provider again.
//
// The database is the record; Redis, when configured, holds a hot copy that
// expires together with the entry.
package responsecache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/jobboard/aicredits/internal/clock"
	"github.com/jobboard/aicredits/internal/metrics"
	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/storage"
)

// DefaultFreshness is how long a stored response may be served
const DefaultFreshness = 24 * time.Hour

// Repository is the durable side of the cache
type Repository interface {
	Insert(ctx context.Context, entry *models.CachedResponse) error
	Latest(ctx context.Context, userID string, feature models.Feature, fingerprint string) (*models.CachedResponse, error)
}

// Entry is a cached provider response
type Entry struct {
	Raw       string    `json:"raw"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache looks up and stores responses per user, feature and prompt
type Cache struct {
	repo      Repository
	redis     *redis.Client
	clock     clock.Clock
	freshness time.Duration
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// Option configures a Cache
type Option func(*Cache)

// WithRedis adds a Redis hot layer in front of the repository
func WithRedis(client *redis.Client) Option {
	return func(c *Cache) { c.redis = client }
}

// WithClock sets the clock freshness is measured against
func WithClock(clk clock.Clock) Option {
	return func(c *Cache) { c.clock = clk }
}

// WithFreshness overrides DefaultFreshness
func WithFreshness(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.freshness = d
		}
	}
}

// WithMetrics records lookup results
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a cache over repo
func New(repo Repository, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		repo:      repo,
		clock:     clock.Real(),
		freshness: DefaultFreshness,
		logger:    logger.Named("responsecache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fingerprint identifies a prompt pair. Each prompt is length-prefixed so
// ("ab", "c") and ("a", "bc") differ.
func Fingerprint(systemPrompt, userPrompt string) string {
	h, _ := blake2b.New256(nil)

	var size [8]byte
	for _, part := range []string{systemPrompt, userPrompt} {
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		h.Write(size[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func redisKey(userID string, feature models.Feature, fingerprint string) string {
	return fmt.Sprintf("aicache:%s:%s:%s", userID, feature, fingerprint)
}

// Lookup returns a fresh cached response. Guests always miss. Redis
// failures are logged and the database is consulted instead.
func (c *Cache) Lookup(ctx context.Context, userID string, feature models.Feature, fingerprint string) (*Entry, bool, error) {
	if userID == "" {
		return nil, false, nil
	}

	now := c.clock.Now()
	key := redisKey(userID, feature, fingerprint)

	if c.redis != nil {
		entry, err := c.fromRedis(ctx, key)
		switch {
		case err != nil:
			c.logger.Warn("redis cache read failed", zap.String("key", key), zap.Error(err))
		case entry != nil && c.fresh(entry.CreatedAt, now):
			c.metrics.ObserveCacheLookup(metrics.CacheRedisHit)
			return entry, true, nil
		}
	}

	row, err := c.repo.Latest(ctx, userID, feature, fingerprint)
	if errors.Is(err, storage.ErrCachedResponseNotFound) {
		c.metrics.ObserveCacheLookup(metrics.CacheMiss)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	if !c.fresh(row.CreatedAt, now) {
		c.metrics.ObserveCacheLookup(metrics.CacheMiss)
		return nil, false, nil
	}

	entry := &Entry{Raw: row.Response, CreatedAt: row.CreatedAt}
	c.metrics.ObserveCacheLookup(metrics.CacheDBHit)
	c.warm(ctx, key, entry, row.CreatedAt.Add(c.freshness).Sub(now))

	return entry, true, nil
}

// Store records raw as the latest response. Guests are not cached.
func (c *Cache) Store(ctx context.Context, userID string, feature models.Feature, fingerprint, raw string) error {
	if userID == "" {
		return nil
	}

	now := c.clock.Now()
	err := c.repo.Insert(ctx, &models.CachedResponse{
		UserID:            userID,
		Feature:           feature,
		PromptFingerprint: fingerprint,
		Response:          raw,
		CreatedAt:         now,
	})
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}

	c.warm(ctx, redisKey(userID, feature, fingerprint), &Entry{Raw: raw, CreatedAt: now}, c.freshness)
	return nil
}

func (c *Cache) fresh(createdAt, now time.Time) bool {
	return now.Sub(createdAt) <= c.freshness
}

func (c *Cache) fromRedis(ctx context.Context, key string) (*Entry, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode cached entry: %w", err)
	}
	return &entry, nil
}

func (c *Cache) warm(ctx context.Context, key string, entry *Entry, ttl time.Duration) {
	if c.redis == nil || ttl <= 0 {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warn("redis cache write failed", zap.String("key", key), zap.Error(err))
	}
}
