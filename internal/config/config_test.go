package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobboard/aicredits/internal/models"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/aicredits?sslmode=disable")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		setRequiredEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "8080", cfg.HTTPPort)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 24*time.Hour, cfg.Cache.ResponseFreshness)
		assert.Equal(t, 9*time.Second, cfg.Provider.FastTimeout)
		assert.True(t, cfg.Provider.ValidateOnStart)
		assert.True(t, cfg.AI.Enabled)
		assert.Equal(t, "gpt-4o", cfg.AI.Model)
		assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORS.AllowedOrigins)
	})

	t.Run("overrides", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("DATABASE_DRIVER", "sqlite")
		t.Setenv("AI_ENABLED", "false")
		t.Setenv("AI_MAX_TOKENS", "512")
		t.Setenv("AI_MONTHLY_BUDGET_USD", "125.5")
		t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
		t.Setenv("USAGE_QUEUE_BATCH_TIMEOUT", "250ms")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.False(t, cfg.AI.Enabled)
		assert.Equal(t, 512, cfg.AI.MaxTokens)
		assert.InDelta(t, 125.5, cfg.AI.MonthlyBudgetUSD, 1e-9)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, 250*time.Millisecond, cfg.UsageQueue.BatchTimeout)
	})

	t.Run("malformed values fall back to defaults", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("DB_MAX_OPEN_CONNS", "many")
		t.Setenv("AI_ENABLED", "perhaps")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.True(t, cfg.AI.Enabled)
	})

	t.Run("missing required values", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("DATABASE_URL", "")
		_, err := Load()
		assert.ErrorContains(t, err, "DATABASE_URL")

		setRequiredEnv(t)
		t.Setenv("OPENAI_API_KEY", "")
		_, err = Load()
		assert.ErrorContains(t, err, "OPENAI_API_KEY")
	})

	t.Run("tools need only the database", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/aicredits")
		t.Setenv("JWT_SECRET", "")
		t.Setenv("OPENAI_API_KEY", "")

		cfg, err := LoadForTools()
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost/aicredits", cfg.Database.URL)
		assert.Empty(t, cfg.Redis.Address)

		_, err = Load()
		assert.ErrorContains(t, err, "JWT_SECRET")
	})

	t.Run("unknown driver", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("DATABASE_DRIVER", "mysql")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoadPolicyFile(t *testing.T) {
	t.Run("explicit file merges with defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "credits.yml")
		content := `
credits:
  feature_costs:
    resume_enhance: 20
    cover_letter: 8
  packages:
    mega: 1000
  signup_bonus: 25
  model_prices:
    - model: gpt-4o
      components:
        - direction: input
          unit: 1m_tokens
          price: 5
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		pf, err := LoadPolicyFile(path)
		require.NoError(t, err)

		costs := pf.FeatureCostTable()
		assert.Equal(t, models.Credits(20), costs[models.FeatureResumeEnhance])
		assert.Equal(t, models.Credits(8), costs[models.Feature("cover_letter")])
		assert.Equal(t, models.Credits(5), costs[models.FeatureJobMatch])

		packages := pf.PackageTable()
		assert.Equal(t, models.Credits(1000), packages["mega"])
		assert.Equal(t, models.Credits(50), packages["starter"])

		assert.Equal(t, int64(25), pf.SignupBonus)
		assert.Equal(t, int64(50), pf.GuestAllotment)

		require.Len(t, pf.ModelPrices, 1)
		assert.Equal(t, "gpt-4o", pf.ModelPrices[0].Model)
		assert.Equal(t, models.PricingUnit1MTokens, pf.ModelPrices[0].Components[0].Unit)
		assert.Equal(t, models.USD(5), pf.ModelPrices[0].Components[0].Price)
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "nope.yml"))
		assert.Error(t, err)
	})

	t.Run("search path falls back to defaults", func(t *testing.T) {
		wd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(t.TempDir()))
		t.Cleanup(func() { _ = os.Chdir(wd) })

		pf, err := LoadPolicyFile("")
		require.NoError(t, err)
		assert.Equal(t, DefaultPolicyFile().FeatureCosts, pf.FeatureCosts)
		assert.Equal(t, int64(50), pf.SignupBonus)
		assert.NotEmpty(t, pf.ModelPrices)
	})

	t.Run("env overrides scalars", func(t *testing.T) {
		wd, err := os.Getwd()
		require.NoError(t, err)
		require.NoError(t, os.Chdir(t.TempDir()))
		t.Cleanup(func() { _ = os.Chdir(wd) })
		t.Setenv("AICREDITS_CREDITS_GUEST_ALLOTMENT", "30")

		pf, err := LoadPolicyFile("")
		require.NoError(t, err)
		assert.Equal(t, int64(30), pf.GuestAllotment)
	})
}
