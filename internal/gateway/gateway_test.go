package gateway_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/billing"
	"github.com/jobboard/aicredits/internal/charge"
	"github.com/jobboard/aicredits/internal/clock"
	"github.com/jobboard/aicredits/internal/gateway"
	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/providers"
	"github.com/jobboard/aicredits/internal/responsecache"
	"github.com/jobboard/aicredits/internal/storage/storagetest"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    []providers.ChatRequest
	deadline time.Duration
	resp     *providers.ChatResponse
	err      error
	block    bool
}

func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	if dl, ok := ctx.Deadline(); ok {
		p.deadline = time.Until(dl)
	}
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return p.resp, p.err
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func okResponse(content string) *providers.ChatResponse {
	return &providers.ChatResponse{
		StatusCode: 200,
		Content:    content,
		Usage:      models.TokenUsage{InputTokens: 1000, OutputTokens: 500},
	}
}

type fakeCharger struct {
	calls int
	err   error
}

func (c *fakeCharger) Charge(ctx context.Context, userID string, feature models.Feature) (*charge.Result, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &charge.Result{Cost: 10}, nil
}

type fakeUsage struct {
	records []*models.UsageRecord
	err     error
}

func (u *fakeUsage) Enqueue(ctx context.Context, r *models.UsageRecord) error {
	if u.err != nil {
		return u.err
	}
	u.records = append(u.records, r)
	return nil
}

var enabled = models.AISettings{Enabled: true, Model: "gpt-4o", MaxTokens: 800}

type harness struct {
	gw       *gateway.Gateway
	provider *fakeProvider
	charger  *fakeCharger
	usage    *fakeUsage
	spend    *billing.RedisSpendTracker
}

func newHarness(t *testing.T, provider *fakeProvider) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := &harness{
		provider: provider,
		charger:  &fakeCharger{},
		usage:    &fakeUsage{},
		spend:    billing.NewRedisSpendTracker(client, clock.Real(), zap.NewNop()),
	}

	cache := responsecache.New(storagetest.NewDB(t).NewResponseCacheRepository(), zap.NewNop())
	gw, err := gateway.New(gateway.Config{
		Provider: provider,
		Charger:  h.charger,
		Cache:    cache,
		Usage:    h.usage,
		Spend:    h.spend,
		Timeout:  30 * time.Second,
	})
	require.NoError(t, err)
	h.gw = gw
	return h
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := gateway.New(gateway.Config{})
	assert.Error(t, err)
}

func TestModelFor(t *testing.T) {
	tests := []struct {
		feature models.Feature
		want    string
	}{
		{models.FeatureJobMatch, gateway.FastModel},
		{models.FeatureFileParse, gateway.FastModel},
		{models.FeatureResumeEnhance, "gpt-4o"},
		{models.FeatureJobDescriptionEnhance, "gpt-4o"},
	}
	for _, tt := range tests {
		t.Run(string(tt.feature), func(t *testing.T) {
			assert.Equal(t, tt.want, gateway.ModelFor(tt.feature, enabled))
		})
	}
}

func TestInvoke_Success(t *testing.T) {
	h := newHarness(t, &fakeProvider{resp: okResponse(`{"score": 87}`)})
	requestID := uuid.New()

	res, err := h.gw.Invoke(context.Background(), gateway.Request{
		UserID:       "u1",
		RequestID:    requestID,
		Feature:      models.FeatureResumeEnhance,
		SystemPrompt: "you are a resume coach",
		UserPrompt:   "improve this",
		Settings:     enabled,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{"score": 87}`, string(res.Data))
	assert.False(t, res.Cached)
	assert.Equal(t, "gpt-4o", res.Model)
	assert.InDelta(t, 0.0075, float64(res.CostUSD), 1e-9)
	assert.Equal(t, 1, h.charger.calls)

	call := h.provider.calls[0]
	assert.Equal(t, 800, call.MaxTokens)
	assert.True(t, call.JSONResponse)
	require.Len(t, call.Messages, 2)
	assert.Equal(t, "system", call.Messages[0].Role)
	assert.Equal(t, "user", call.Messages[1].Role)

	require.Len(t, h.usage.records, 1)
	rec := h.usage.records[0]
	assert.Equal(t, requestID, rec.RequestID)
	assert.Equal(t, "resume_enhance", rec.Endpoint)
	require.NotNil(t, rec.UserID)
	assert.Equal(t, "u1", *rec.UserID)
	assert.Equal(t, 1500, rec.TokenCount)

	spent, err := h.spend.MonthlySpend(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.0075, float64(spent), 1e-9)
}

func TestInvoke_Disabled(t *testing.T) {
	h := newHarness(t, &fakeProvider{resp: okResponse(`{}`)})

	_, err := h.gw.Invoke(context.Background(), gateway.Request{
		UserID:   "u1",
		Feature:  models.FeatureJobMatch,
		Settings: models.AISettings{Enabled: false, Model: "gpt-4o"},
	})
	assert.ErrorIs(t, err, gateway.ErrFeatureDisabled)
	assert.Zero(t, h.provider.callCount())
	assert.Zero(t, h.charger.calls)
}

func TestInvoke_BudgetExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeProvider{resp: okResponse(`{}`)})
	require.NoError(t, h.spend.AddUsage(ctx, 5))

	settings := enabled
	settings.MonthlyBudgetUSD = 5

	_, err := h.gw.Invoke(ctx, gateway.Request{UserID: "u1", Feature: models.FeatureJobMatch, Settings: settings})
	assert.ErrorIs(t, err, gateway.ErrFeatureDisabled)
	assert.Zero(t, h.provider.callCount())
}

func TestInvoke_CacheHitSkipsProviderAndCharge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeProvider{resp: okResponse(`{"match": true}`)})

	req := gateway.Request{
		UserID:     "u1",
		Feature:    models.FeatureJobMatch,
		UserPrompt: "job + resume",
		Settings:   enabled,
		Options:    gateway.Options{Cache: true},
	}

	first, err := h.gw.Invoke(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := h.gw.Invoke(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.JSONEq(t, `{"match": true}`, string(second.Data))

	assert.Equal(t, 1, h.provider.callCount())
	assert.Equal(t, 1, h.charger.calls)
	assert.Len(t, h.usage.records, 1)
}

func TestInvoke_GuestIsNeverCached(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, &fakeProvider{resp: okResponse(`{}`)})

	req := gateway.Request{
		Feature:    models.FeatureJobMatch,
		UserPrompt: "same",
		Settings:   enabled,
		Options:    gateway.Options{Cache: true, SkipCreditCheck: true},
	}
	for i := 0; i < 2; i++ {
		res, err := h.gw.Invoke(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.Cached)
	}
	assert.Equal(t, 2, h.provider.callCount())
	assert.Nil(t, h.usage.records[0].UserID)
}

func TestInvoke_SkipCreditCheck(t *testing.T) {
	h := newHarness(t, &fakeProvider{resp: okResponse(`{}`)})

	_, err := h.gw.Invoke(context.Background(), gateway.Request{
		UserID:   "u1",
		Feature:  models.FeatureJobMatch,
		Settings: enabled,
		Options:  gateway.Options{SkipCreditCheck: true},
	})
	require.NoError(t, err)
	assert.Zero(t, h.charger.calls)
}

func TestInvoke_InsufficientCredits(t *testing.T) {
	h := newHarness(t, &fakeProvider{resp: okResponse(`{}`)})
	h.charger.err = &charge.InsufficientCreditsError{Required: 10, Available: 3}

	_, err := h.gw.Invoke(context.Background(), gateway.Request{UserID: "u1", Feature: models.FeatureJobMatch, Settings: enabled})
	assert.True(t, charge.IsInsufficientCredits(err))
	assert.Zero(t, h.provider.callCount())
}

func TestInvoke_Timeout(t *testing.T) {
	h := newHarness(t, &fakeProvider{block: true})

	_, err := h.gw.Invoke(context.Background(), gateway.Request{
		UserID:   "u1",
		Feature:  models.FeatureResumeEnhance,
		Settings: enabled,
		Options:  gateway.Options{Timeout: 20 * time.Millisecond},
	})
	assert.ErrorIs(t, err, gateway.ErrTimeout)
	assert.True(t, gateway.Refundable(err))
	assert.Empty(t, h.usage.records)
}

func TestInvoke_FeatureTimeouts(t *testing.T) {
	h := newHarness(t, &fakeProvider{resp: okResponse(`{}`)})
	ctx := context.Background()

	_, err := h.gw.Invoke(ctx, gateway.Request{Feature: models.FeatureJobMatch, Settings: enabled, Options: gateway.Options{SkipCreditCheck: true}})
	require.NoError(t, err)
	assert.LessOrEqual(t, h.provider.deadline, gateway.DefaultFastTimeout)
	assert.Greater(t, h.provider.deadline, gateway.DefaultFastTimeout-time.Second)

	_, err = h.gw.Invoke(ctx, gateway.Request{Feature: models.FeatureResumeEnhance, Settings: enabled, Options: gateway.Options{SkipCreditCheck: true}})
	require.NoError(t, err)
	assert.Greater(t, h.provider.deadline, 29*time.Second)
}

func TestInvoke_ProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		status   int
	}{
		{
			name:     "non-2xx status",
			provider: &fakeProvider{resp: &providers.ChatResponse{StatusCode: 429, Body: []byte(`{"error":"rate limited"}`)}},
			status:   429,
		},
		{
			name:     "transport failure",
			provider: &fakeProvider{err: errors.New("connection refused")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.provider)

			_, err := h.gw.Invoke(context.Background(), gateway.Request{UserID: "u1", Feature: models.FeatureJobMatch, Settings: enabled})
			var perr *gateway.ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.status, perr.StatusCode)
			assert.True(t, gateway.Refundable(err))
		})
	}
}

func TestInvoke_MalformedResponse(t *testing.T) {
	for _, content := range []string{"", "   ", "Sure! Here is your JSON:", `{"score": 8`} {
		t.Run(content, func(t *testing.T) {
			h := newHarness(t, &fakeProvider{resp: okResponse(content)})

			res, err := h.gw.Invoke(context.Background(), gateway.Request{
				UserID:   "u1",
				Feature:  models.FeatureJobMatch,
				Settings: enabled,
				Options:  gateway.Options{Cache: true},
			})
			assert.Nil(t, res)
			assert.ErrorIs(t, err, gateway.ErrMalformedResponse)
			assert.True(t, gateway.Refundable(err))
			// the provider was paid, so usage is still recorded
			assert.Len(t, h.usage.records, 1)
		})
	}
}

func TestInvoke_UsageFailureDoesNotFailRequest(t *testing.T) {
	h := newHarness(t, &fakeProvider{resp: okResponse(`{"ok":1}`)})
	h.usage.err = errors.New("queue full")

	res, err := h.gw.Invoke(context.Background(), gateway.Request{UserID: "u1", Feature: models.FeatureJobMatch, Settings: enabled})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":1}`, string(res.Data))
}

func TestRefundable(t *testing.T) {
	assert.False(t, gateway.Refundable(gateway.ErrFeatureDisabled))
	assert.False(t, gateway.Refundable(&charge.InsufficientCreditsError{}))
	assert.False(t, gateway.Refundable(nil))
}
