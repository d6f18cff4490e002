package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"polar-fitness-sync/internal/polar"
)

// Store backends
const (
	StoreBackendSQLite    = "sqlite"
	StoreBackendFirestore = "firestore"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Host string
	Port int

	// Metrics server configuration
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int

	// Document store configuration
	StoreBackend       string
	FirestoreProjectID string
	DatabasePath       string

	// Polar AccessLink configuration
	PolarClientID          string
	PolarClientSecret      string
	PolarRedirectURI       string
	PolarWebhookSecret     string
	PolarAPIBaseURL        string
	PolarTokenURL          string
	PolarAuthURL           string
	PolarRequestsPerSecond float64
	PolarBreakerFailures   int

	// Cron endpoint shared secret
	CronSecret string

	// Session token configuration
	SessionSecret string
	SessionIssuer string

	// Mobile app deep-link scheme (e.g. fitquest://oauth/polar)
	AppScheme string

	CORSAllowedOrigins []string

	// Requests per minute per client on public and API routes
	RateLimitPerMinute int

	// Optional YAML override for the per-category field allow-list
	AllowListPath string

	// Categories walked by each sync, in order
	SyncCategories []polar.Category

	WorkerQueueSize int

	// Logging configuration
	LogLevel string
}

// Load reads configuration from environment variables
// It fails fast if required variables are missing
func Load() (*Config, error) {
	cfg := &Config{
		// Optional values with defaults
		Host:                   getEnv("HOST", "localhost"),
		Port:                   getEnvInt("PORT", 4101),
		MetricsEnabled:         getEnvBool("METRICS_ENABLED", false),
		MetricsHost:            getEnv("METRICS_HOST", "localhost"),
		MetricsPort:            getEnvInt("METRICS_PORT", 9090),
		StoreBackend:           getEnv("STORE_BACKEND", StoreBackendSQLite),
		FirestoreProjectID:     getEnv("FIRESTORE_PROJECT_ID", ""),
		DatabasePath:           getEnv("DATABASE_PATH", "./data.db"),
		PolarRedirectURI:       getEnv("POLAR_REDIRECT_URI", ""),
		PolarWebhookSecret:     getEnv("POLAR_WEBHOOK_SECRET", ""),
		PolarAPIBaseURL:        getEnv("POLAR_API_BASE_URL", "https://www.polaraccesslink.com/v3"),
		PolarTokenURL:          getEnv("POLAR_TOKEN_URL", "https://polarremote.com/v2/oauth2/token"),
		PolarAuthURL:           getEnv("POLAR_AUTH_URL", "https://flow.polar.com/oauth2/authorization"),
		PolarRequestsPerSecond: getEnvFloat("POLAR_REQUESTS_PER_SECOND", 5),
		PolarBreakerFailures:   getEnvInt("POLAR_BREAKER_FAILURES", 5),
		SessionIssuer:          getEnv("SESSION_ISSUER", "polar-fitness-sync"),
		AppScheme:              getEnv("APP_SCHEME", "fitquest"),
		CORSAllowedOrigins:     getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMinute:     getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		AllowListPath:          getEnv("ALLOWLIST_PATH", ""),
		WorkerQueueSize:        getEnvInt("WORKER_QUEUE_SIZE", 256),
		SyncCategories:         polar.AllCategories,
		LogLevel:               getEnv("LOG_LEVEL", "info"),
	}

	// Required values
	var missingVars []string

	cfg.PolarClientID = os.Getenv("POLAR_CLIENT_ID")
	if cfg.PolarClientID == "" {
		missingVars = append(missingVars, "POLAR_CLIENT_ID")
	}

	cfg.PolarClientSecret = os.Getenv("POLAR_CLIENT_SECRET")
	if cfg.PolarClientSecret == "" {
		missingVars = append(missingVars, "POLAR_CLIENT_SECRET")
	}

	cfg.CronSecret = os.Getenv("CRON_SECRET")
	if cfg.CronSecret == "" {
		missingVars = append(missingVars, "CRON_SECRET")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missingVars = append(missingVars, "SESSION_SECRET")
	}

	if cfg.StoreBackend == StoreBackendFirestore && cfg.FirestoreProjectID == "" {
		missingVars = append(missingVars, "FIRESTORE_PROJECT_ID")
	}

	if len(missingVars) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	switch cfg.StoreBackend {
	case StoreBackendSQLite, StoreBackendFirestore:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q (want %s or %s)", cfg.StoreBackend, StoreBackendSQLite, StoreBackendFirestore)
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT must be between 1 and 65535")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	if raw := getEnvList("SYNC_CATEGORIES", nil); len(raw) > 0 {
		cfg.SyncCategories = nil
		for _, name := range raw {
			c, ok := polar.ParseCategory(name)
			if !ok {
				return nil, fmt.Errorf("SYNC_CATEGORIES has unknown category %q", name)
			}
			cfg.SyncCategories = append(cfg.SyncCategories, c)
		}
	}

	if cfg.RateLimitPerMinute < 1 {
		return nil, fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}

	if cfg.PolarRequestsPerSecond <= 0 {
		return nil, fmt.Errorf("POLAR_REQUESTS_PER_SECOND must be positive")
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
