package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for the credits service.
type Config struct {
	HTTPPort     string
	LogLevel     string
	JWTSecret    []byte
	ServiceToken string // bearer token for /internal routes
	CookieSecure bool   // mark the guest cookie Secure
	CORS         CORSConfig
	Database     DatabaseConfig
	Cache        CacheConfig
	Redis        RedisConfig
	Provider     ProviderConfig
	AI           AIDefaults
	UsageQueue   UsageQueueConfig
	CreditsFile  string
}

// CORSConfig holds the browser origins allowed to call the API
type CORSConfig struct {
	AllowedOrigins []string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	AutoMigrate     bool
}

// CacheConfig holds in-process cache settings
type CacheConfig struct {
	SettingsCacheTTL  time.Duration
	ResponseFreshness time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ProviderConfig holds upstream AI provider settings
type ProviderConfig struct {
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration // default bound for provider calls
	FastTimeout    time.Duration // bound for latency-sensitive features

	// ValidateOnStart checks the API key against the provider at startup
	ValidateOnStart bool
}

// AIDefaults seeds the AI settings snapshot when no admin row exists.
type AIDefaults struct {
	Enabled          bool
	Model            string
	MaxTokens        int
	MonthlyBudgetUSD float64
}

// UsageQueueConfig holds settings for the async usage-log writer
type UsageQueueConfig struct {
	UseRedis     bool
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvFloat(key string, defaultValue float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() (*Config, error) {
	cfg, err := LoadForTools()
	if err != nil {
		return nil, err
	}

	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	return cfg, nil
}

// LoadForTools is Load without the secrets only the server needs. Command
// line tools that talk to the database use it.
func LoadForTools() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	driver := getEnvString("DATABASE_DRIVER", "postgres")
	if driver != "postgres" && driver != "sqlite" {
		return nil, fmt.Errorf("DATABASE_DRIVER must be postgres or sqlite, got %q", driver)
	}

	cfg := &Config{
		HTTPPort:     getEnvString("HTTP_PORT", "8080"),
		LogLevel:     getEnvString("LOG_LEVEL", "info"),
		JWTSecret:    []byte(os.Getenv("JWT_SECRET")),
		ServiceToken: os.Getenv("SERVICE_TOKEN"),
		CookieSecure: getEnvBool("COOKIE_SECURE", false),
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Driver:          driver,
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Cache: CacheConfig{
			SettingsCacheTTL:  getEnvDuration("SETTINGS_CACHE_TTL", 30*time.Second),
			ResponseFreshness: getEnvDuration("AI_CACHE_FRESHNESS", 24*time.Hour),
		},
		Redis: RedisConfig{
			Address:      getEnvString("REDIS_ADDRESS", ""), // empty disables Redis
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Provider: ProviderConfig{
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			BaseURL:        getEnvString("OPENAI_BASE_URL", ""),
			RequestTimeout: getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 30*time.Second),
			FastTimeout:    getEnvDuration("PROVIDER_FAST_TIMEOUT", 9*time.Second),

			ValidateOnStart: getEnvBool("PROVIDER_VALIDATE_ON_START", true),
		},
		AI: AIDefaults{
			Enabled:          getEnvBool("AI_ENABLED", true),
			Model:            getEnvString("AI_MODEL", "gpt-4o"),
			MaxTokens:        getEnvInt("AI_MAX_TOKENS", 2000),
			MonthlyBudgetUSD: getEnvFloat("AI_MONTHLY_BUDGET_USD", 0),
		},
		UsageQueue: UsageQueueConfig{
			UseRedis:     getEnvBool("USAGE_QUEUE_REDIS", false),
			BatchSize:    getEnvInt("USAGE_QUEUE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("USAGE_QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("USAGE_QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("USAGE_QUEUE_RETRY_BACKOFF", 1*time.Second),
		},
		CreditsFile: getEnvString("CREDITS_CONFIG_PATH", ""),
	}

	return cfg, nil
}
