// Package gateway runs one metered AI request against the upstream
// provider: kill switch and budget, response cache, optional charge, the
// provider call under a deadline, usage accounting and output parsing.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/billing"
	"github.com/jobboard/aicredits/internal/charge"
	"github.com/jobboard/aicredits/internal/metrics"
	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/providers"
	"github.com/jobboard/aicredits/internal/responsecache"
	"github.com/jobboard/aicredits/internal/utils"
)

const (
	// FastModel serves latency-sensitive features whatever the settings say
	FastModel = "gpt-4o-mini"

	// DefaultFastTimeout bounds latency-sensitive provider calls
	DefaultFastTimeout = 9 * time.Second

	// DefaultTimeout bounds every other provider call
	DefaultTimeout = 60 * time.Second

	// a full usage queue must not hold the response back for long
	usageEnqueueTimeout = 250 * time.Millisecond
)

// Charger takes payment before the provider is called
type Charger interface {
	Charge(ctx context.Context, userID string, feature models.Feature) (*charge.Result, error)
}

// ResponseCache serves and stores previous responses
type ResponseCache interface {
	Lookup(ctx context.Context, userID string, feature models.Feature, fingerprint string) (*responsecache.Entry, bool, error)
	Store(ctx context.Context, userID string, feature models.Feature, fingerprint, raw string) error
}

// UsageRecorder accepts usage records for the usage log
type UsageRecorder interface {
	Enqueue(ctx context.Context, record *models.UsageRecord) error
}

// Pricer converts token usage to USD
type Pricer interface {
	Cost(model string, usage models.TokenUsage) models.USD
}

// Options tune a single invocation
type Options struct {
	// Cache serves and stores the response through the response cache
	Cache bool
	// SkipCreditCheck is set when the caller already charged
	SkipCreditCheck bool
	// Timeout overrides the feature's default deadline
	Timeout time.Duration
}

// Request is one AI invocation. Settings is the snapshot taken by the caller.
type Request struct {
	UserID       string
	RequestID    uuid.UUID
	Feature      models.Feature
	SystemPrompt string
	UserPrompt   string
	Settings     models.AISettings
	Options      Options
}

// Result is a parsed provider response
type Result struct {
	Data    json.RawMessage
	Raw     string
	Cached  bool
	Model   string
	Usage   models.TokenUsage
	CostUSD models.USD
}

// Config wires a Gateway. Provider is required; Cache, Charger, Usage and
// Spend may be nil.
type Config struct {
	Provider    providers.Provider
	Charger     Charger
	Cache       ResponseCache
	Usage       UsageRecorder
	Spend       billing.SpendTracker
	Prices      Pricer
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Timeout     time.Duration
	FastTimeout time.Duration
}

// Gateway invokes the AI provider on behalf of metered features
type Gateway struct {
	provider    providers.Provider
	charger     Charger
	cache       ResponseCache
	usage       UsageRecorder
	spend       billing.SpendTracker
	prices      Pricer
	metrics     *metrics.Metrics
	logger      *zap.Logger
	timeout     time.Duration
	fastTimeout time.Duration
}

// New creates a gateway
func New(cfg Config) (*Gateway, error) {
	if cfg.Provider == nil {
		return nil, errors.New("provider is required")
	}

	g := &Gateway{
		provider:    cfg.Provider,
		charger:     cfg.Charger,
		cache:       cfg.Cache,
		usage:       cfg.Usage,
		spend:       cfg.Spend,
		prices:      cfg.Prices,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		timeout:     cfg.Timeout,
		fastTimeout: cfg.FastTimeout,
	}
	if g.spend == nil {
		g.spend = billing.NewNoopSpendTracker()
	}
	if g.prices == nil {
		g.prices = billing.NewPriceTable(models.DefaultModelPrices(), cfg.Logger)
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	g.logger = g.logger.Named("gateway")
	if g.timeout <= 0 {
		g.timeout = DefaultTimeout
	}
	if g.fastTimeout <= 0 {
		g.fastTimeout = DefaultFastTimeout
	}
	return g, nil
}

// latencySensitive features are answered by the fast model under a tight deadline
func latencySensitive(feature models.Feature) bool {
	return feature == models.FeatureJobMatch || feature == models.FeatureFileParse
}

// ModelFor returns the model that serves feature
func ModelFor(feature models.Feature, settings models.AISettings) string {
	if latencySensitive(feature) {
		return FastModel
	}
	return settings.Model
}

func (g *Gateway) timeoutFor(feature models.Feature, opts Options) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	if latencySensitive(feature) {
		return g.fastTimeout
	}
	return g.timeout
}

// Invoke runs req. Charges taken here or by the caller are never refunded by
// the gateway; see Refundable.
func (g *Gateway) Invoke(ctx context.Context, req Request) (*Result, error) {
	if req.RequestID == uuid.Nil {
		req.RequestID = uuid.New()
	}
	feature := string(req.Feature)
	log := g.logger.With(
		zap.String("request_id", req.RequestID.String()),
		zap.String("feature", feature))

	if !req.Settings.Enabled {
		g.metrics.ObserveAIRequest(feature, metrics.AIOutcomeDisabled)
		return nil, ErrFeatureDisabled
	}
	if !g.spend.WithinBudget(ctx, req.Settings.MonthlyBudgetUSD) {
		log.Warn("monthly AI budget reached", zap.Float64("budget_usd", float64(req.Settings.MonthlyBudgetUSD)))
		g.metrics.ObserveAIRequest(feature, metrics.AIOutcomeDisabled)
		return nil, ErrFeatureDisabled
	}

	model := ModelFor(req.Feature, req.Settings)
	useCache := req.Options.Cache && req.UserID != "" && g.cache != nil
	fingerprint := ""

	if useCache {
		fingerprint = responsecache.Fingerprint(req.SystemPrompt, req.UserPrompt)
		if res, ok := g.fromCache(ctx, log, req, fingerprint, model); ok {
			g.metrics.ObserveAIRequest(feature, metrics.AIOutcomeCached)
			return res, nil
		}
	}

	if !req.Options.SkipCreditCheck && req.UserID != "" && g.charger != nil {
		if _, err := g.charger.Charge(ctx, req.UserID, req.Feature); err != nil {
			if charge.IsInsufficientCredits(err) {
				g.metrics.ObserveAIRequest(feature, metrics.AIOutcomeInsufficient)
			}
			return nil, err
		}
	}

	resp, err := g.call(ctx, req, model)
	if err != nil {
		outcome := metrics.AIOutcomeProviderError
		if errors.Is(err, ErrTimeout) {
			outcome = metrics.AIOutcomeTimeout
		}
		g.metrics.ObserveAIRequest(feature, outcome)
		log.Warn("provider call failed", zap.String("model", model), zap.Error(err))
		return nil, err
	}

	cost := g.prices.Cost(model, resp.Usage)
	g.metrics.ObserveProviderCall(model, resp.ProviderLatency, float64(cost))
	g.recordUsage(ctx, log, req, model, resp.Usage, cost)

	data, err := parseContent(resp.Content)
	if err != nil {
		g.metrics.ObserveAIRequest(feature, metrics.AIOutcomeMalformed)
		log.Warn("malformed provider response", zap.String("model", model), zap.Error(err))
		return nil, err
	}

	if useCache {
		if err := g.cache.Store(ctx, req.UserID, req.Feature, fingerprint, resp.Content); err != nil {
			log.Warn("failed to cache response", zap.String("fingerprint", fingerprint), zap.Error(err))
		}
	}

	g.metrics.ObserveAIRequest(feature, metrics.AIOutcomeOK)
	log.Debug("AI request completed",
		zap.String("model", model),
		zap.Int("tokens", resp.Usage.Total()),
		zap.Float64("cost_usd", float64(cost)),
		zap.Duration("latency", resp.ProviderLatency))

	return &Result{
		Data:    data,
		Raw:     resp.Content,
		Model:   model,
		Usage:   resp.Usage,
		CostUSD: cost,
	}, nil
}

func (g *Gateway) fromCache(ctx context.Context, log *zap.Logger, req Request, fingerprint, model string) (*Result, bool) {
	entry, ok, err := g.cache.Lookup(ctx, req.UserID, req.Feature, fingerprint)
	if err != nil {
		log.Warn("cache lookup failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	data, err := parseContent(entry.Raw)
	if err != nil {
		log.Warn("discarding unparsable cached response", zap.String("fingerprint", fingerprint))
		return nil, false
	}
	return &Result{Data: data, Raw: entry.Raw, Cached: true, Model: model}, true
}

func (g *Gateway) call(ctx context.Context, req Request, model string) (*providers.ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeoutFor(req.Feature, req.Options))
	defer cancel()

	messages := make([]providers.Message, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, providers.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, providers.Message{Role: "user", Content: req.UserPrompt})

	resp, err := g.provider.Chat(callCtx, providers.ChatRequest{
		Model:        model,
		Messages:     messages,
		MaxTokens:    req.Settings.MaxTokens,
		JSONResponse: true,
	})
	if err != nil {
		if callCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, &ProviderError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return resp, nil
}

// recordUsage is best-effort. The provider was paid even if the caller has
// gone away, so the caller's cancellation is ignored.
func (g *Gateway) recordUsage(ctx context.Context, log *zap.Logger, req Request, model string, usage models.TokenUsage, cost models.USD) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), usageEnqueueTimeout)
	defer cancel()

	if g.usage != nil {
		record := &models.UsageRecord{
			RequestID:    req.RequestID,
			UserID:       utils.NonEmptyStringPtr(req.UserID),
			Endpoint:     string(req.Feature),
			Model:        model,
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
			TokenCount:   usage.Total(),
			CostUSD:      cost,
		}
		if err := g.usage.Enqueue(ctx, record); err != nil {
			g.metrics.UsageDropped()
			log.Error("failed to enqueue usage record", zap.Error(err))
		}
	}

	if err := g.spend.AddUsage(ctx, cost); err != nil {
		log.Warn("failed to update monthly spend", zap.Error(err))
	}
}

// parseContent checks the reply is a single JSON document
func parseContent(content string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace([]byte(content))
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	var data json.RawMessage
	if err := json.Unmarshal(trimmed, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return data, nil
}
