package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/billing"
	"github.com/jobboard/aicredits/internal/charge"
	"github.com/jobboard/aicredits/internal/clock"
	"github.com/jobboard/aicredits/internal/config"
	"github.com/jobboard/aicredits/internal/gateway"
	"github.com/jobboard/aicredits/internal/guest"
	"github.com/jobboard/aicredits/internal/httpapi"
	"github.com/jobboard/aicredits/internal/logger"
	"github.com/jobboard/aicredits/internal/metrics"
	"github.com/jobboard/aicredits/internal/migration"
	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/policy"
	"github.com/jobboard/aicredits/internal/providers"
	"github.com/jobboard/aicredits/internal/queue"
	"github.com/jobboard/aicredits/internal/responsecache"
	"github.com/jobboard/aicredits/internal/settings"
	"github.com/jobboard/aicredits/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := storage.NewDB(storage.DBConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := migration.RunMigrations(db.Conn().DB, cfg.Database.Driver); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		zl.Info("database migrations applied", zap.String("driver", cfg.Database.Driver))
	}

	healthChecks := []httpapi.HealthCheck{{Name: "database", Check: db.Health}}

	// Redis is optional; without it the cache is database-only, spend is
	// summed from the usage log and the usage queue lives in memory.
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		rc, err := storage.NewRedisClient(ctx, storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer rc.Close()
		redisClient = rc.Client()
		healthChecks = append(healthChecks, httpapi.HealthCheck{Name: "redis", Check: rc.Health})
	}

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db.Conn().DB, "aicredits"),
	)
	m := metrics.New(registry)

	// Credit policy
	pf, err := config.LoadPolicyFile(cfg.CreditsFile)
	if err != nil {
		return err
	}
	pol, err := policy.New(policy.Config{
		FeatureCosts:   pf.FeatureCostTable(),
		Packages:       pf.PackageTable(),
		SignupBonus:    models.Credits(pf.SignupBonus),
		GuestAllotment: models.Credits(pf.GuestAllotment),
	}, zl)
	if err != nil {
		return fmt.Errorf("invalid credit policy: %w", err)
	}

	balances := db.NewBalanceRepository()
	coordinator := charge.NewCoordinator(balances, pol,
		guest.NewTracker(pol.GuestAllotment(), cfg.CookieSecure), m, zl)

	// Usage log queue
	usageRepo := db.NewUsageRepository()
	qcfg := queue.DefaultConfig("usage")
	qcfg.BatchSize = cfg.UsageQueue.BatchSize
	qcfg.BatchTimeout = cfg.UsageQueue.BatchTimeout
	qcfg.MaxRetries = cfg.UsageQueue.MaxRetries
	qcfg.RetryBackoff = cfg.UsageQueue.RetryBackoff

	var (
		usageQueue queue.Queue
		usageDLQ   queue.DeadLetterQueue
	)
	if cfg.UsageQueue.UseRedis && redisClient != nil {
		if usageQueue, err = queue.NewRedisQueue(redisClient, qcfg); err != nil {
			return fmt.Errorf("failed to create usage queue: %w", err)
		}
		if usageDLQ, err = queue.NewRedisDeadLetterQueue(redisClient, qcfg); err != nil {
			return fmt.Errorf("failed to create usage DLQ: %w", err)
		}
	} else {
		usageQueue = queue.NewMemoryQueue(qcfg)
		usageDLQ = queue.NewMemoryDeadLetterQueue()
	}
	defer usageQueue.Close()

	usageWorker := storage.NewUsageQueueWorker(usageQueue, usageDLQ, usageRepo, qcfg)
	usageWorker.Start(context.Background())

	// Spend tracking and response cache
	var spend billing.SpendTracker
	cacheOpts := []responsecache.Option{
		responsecache.WithFreshness(cfg.Cache.ResponseFreshness),
		responsecache.WithMetrics(m),
	}
	if redisClient != nil {
		spend = billing.NewRedisSpendTracker(redisClient, clock.Real(), zl)
		cacheOpts = append(cacheOpts, responsecache.WithRedis(redisClient))
	} else {
		spend = billing.NewLedgerSpendTracker(usageRepo, clock.Real(), zl)
	}
	cache := responsecache.New(db.NewResponseCacheRepository(), zl, cacheOpts...)

	// Provider and gateway
	provider, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
		APIKey:  cfg.Provider.APIKey,
		BaseURL: cfg.Provider.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize provider: %w", err)
	}
	defer provider.Close()

	if cfg.Provider.ValidateOnStart {
		vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := provider.ValidateCredentials(vctx); err != nil {
			zl.Warn("provider credentials could not be validated", zap.Error(err))
		}
		cancel()
	}

	gw, err := gateway.New(gateway.Config{
		Provider:    provider,
		Charger:     coordinator,
		Cache:       cache,
		Usage:       usageWorker,
		Spend:       spend,
		Prices:      billing.NewPriceTable(pf.ModelPrices, zl),
		Metrics:     m,
		Logger:      zl,
		Timeout:     cfg.Provider.RequestTimeout,
		FastTimeout: cfg.Provider.FastTimeout,
	})
	if err != nil {
		return err
	}

	settingsStore := settings.NewStore(db.NewSettingsRepository(), models.AISettings{
		Enabled:          cfg.AI.Enabled,
		Model:            cfg.AI.Model,
		MaxTokens:        cfg.AI.MaxTokens,
		MonthlyBudgetUSD: models.USD(cfg.AI.MonthlyBudgetUSD),
	}, cfg.Cache.SettingsCacheTTL, clock.Real(), zl)

	handler := httpapi.NewRouter(&httpapi.Dependencies{
		Coordinator:    coordinator,
		Gateway:        gw,
		Settings:       settingsStore,
		Ledger:         balances,
		Spend:          spend,
		DeadLetters:    usageWorker,
		PoolStats:      db.GetStats,
		HealthChecks:   healthChecks,
		Metrics:        m,
		Gatherer:       registry,
		Logger:         zl,
		JWTSecret:      cfg.JWTSecret,
		ServiceToken:   cfg.ServiceToken,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * cfg.Provider.RequestTimeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("AI credits service listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	zl.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Warn("server forced to shutdown", zap.Error(err))
	}

	// Flush pending usage records before the database closes
	if err := usageWorker.Stop(); err != nil {
		zl.Warn("usage worker stop failed", zap.Error(err))
	}

	zl.Info("server exited")
	return nil
}
