package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/billing"
	"github.com/jobboard/aicredits/internal/charge"
	"github.com/jobboard/aicredits/internal/gateway"
	"github.com/jobboard/aicredits/internal/metrics"
	"github.com/jobboard/aicredits/internal/middleware"
	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/queue"
	"github.com/jobboard/aicredits/internal/storage"
)

// Invoker runs AI requests
type Invoker interface {
	Invoke(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

// SettingsSource serves and updates the AI settings snapshot
type SettingsSource interface {
	Snapshot(ctx context.Context) (models.AISettings, error)
	Update(ctx context.Context, next models.AISettings) (models.AISettings, error)
}

// Ledger lists credit transactions
type Ledger interface {
	ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error)
}

// DeadLetters inspects and replays failed usage records
type DeadLetters interface {
	DeadLetters(ctx context.Context, max int) ([]queue.DeadLetterItem, error)
	RetryDeadLetterItem(ctx context.Context, id string) error
}

// HealthCheck is one dependency checked by /healthz
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Coordinator  *charge.Coordinator
	Gateway      Invoker
	Settings     SettingsSource
	Ledger       Ledger
	Spend        billing.SpendTracker
	DeadLetters  DeadLetters            // optional
	PoolStats    func() storage.DBStats // optional
	HealthChecks []HealthCheck
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Logger       *zap.Logger

	JWTSecret      []byte
	ServiceToken   string
	AllowedOrigins []string
}

// NewRouter builds the HTTP handler with all routes and middleware wired up
func NewRouter(d *Dependencies) http.Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Spend == nil {
		d.Spend = billing.NewNoopSpendTracker()
	}

	mux := http.NewServeMux()
	registerRoutes(mux, d)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}).Handler(mux)

	return middleware.RequestID(middleware.Logging(d.Logger)(corsHandler))
}

func registerRoutes(mux *http.ServeMux, d *Dependencies) {
	identity := middleware.Identity(d.JWTSecret)
	user := func(h http.HandlerFunc) http.Handler {
		return identity(middleware.RequireUser(h))
	}
	service := middleware.ServiceToken(d.ServiceToken)

	// Public API; guests allowed where it makes sense
	mux.Handle("POST /api/ai/{feature}", identity(http.HandlerFunc(d.handleAIFeature)))
	mux.Handle("GET /api/credits/balance", identity(http.HandlerFunc(d.handleBalance)))
	mux.Handle("GET /api/credits/transactions", user(d.handleTransactions))
	mux.Handle("POST /api/credits/signup-bonus", user(d.handleSignupBonus))

	// Service-to-service
	mux.Handle("POST /internal/credits/grant", service(http.HandlerFunc(d.handleGrant)))
	mux.Handle("GET /internal/ai/settings", service(http.HandlerFunc(d.handleGetSettings)))
	mux.Handle("PUT /internal/ai/settings", service(http.HandlerFunc(d.handlePutSettings)))
	mux.Handle("GET /internal/ai/spend", service(http.HandlerFunc(d.handleSpend)))
	mux.Handle("DELETE /internal/ai/spend", service(http.HandlerFunc(d.handleResetSpend)))
	mux.Handle("GET /internal/usage/dead-letters", service(http.HandlerFunc(d.handleListDeadLetters)))
	mux.Handle("POST /internal/usage/dead-letters/{id}/retry", service(http.HandlerFunc(d.handleRetryDeadLetter)))

	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler(d.Gatherer))
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(d.HealthChecks))
	for _, hc := range d.HealthChecks {
		if err := hc.Check(ctx); err != nil {
			d.Logger.Warn("health check failed", zap.String("check", hc.Name), zap.Error(err))
			checks[hc.Name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[hc.Name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	body := map[string]any{"status": overall, "checks": checks}
	if d.PoolStats != nil {
		body["database_pool"] = d.PoolStats()
	}
	respond(w, status, body)
}
