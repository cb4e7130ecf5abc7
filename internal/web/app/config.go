package app

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/aussiebroadwan/tourbook/pkg/apiclient"
	"github.com/aussiebroadwan/tourbook/pkg/jwtx"
)

// devAccessSecret is only accepted when ENV=dev.
const devAccessSecret = "tourbook-dev-access-secret"

type Config struct {
	BackendURL         string        // Backend API root (default: http://localhost:5000/api/v1)
	AccessSecret       string        // HS256 secret shared with the backend; required outside dev
	AccessTokenMaxAge  time.Duration // Max-age of the access cookie (default: 24h)
	RefreshTokenMaxAge time.Duration // Max-age of the refresh cookie (default: 30 days)
	RefreshTimeout     time.Duration // Bound on one refresh exchange (default: 10s)
	BackendTimeout     time.Duration // Bound on every other backend call (default: 30s)
	TokenLeeway        time.Duration // Clock skew tolerated when verifying (default: 0)
	TokenIssuer        string        // Required iss claim; empty accepts any issuer (default: "")

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 3000)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	cfg := Config{
		BackendURL:         getEnvOrDefault("BACKEND_URL", "http://localhost:5000/api/v1"),
		AccessSecret:       os.Getenv("JWT_ACCESS_SECRET"),
		AccessTokenMaxAge:  getEnvDurationOrDefault("ACCESS_TOKEN_MAX_AGE", jwtx.DefaultAccessTokenTTL),
		RefreshTokenMaxAge: getEnvDurationOrDefault("REFRESH_TOKEN_MAX_AGE", jwtx.DefaultRefreshTokenTTL),
		RefreshTimeout:     getEnvDurationOrDefault("REFRESH_TIMEOUT", apiclient.DefaultRefreshTimeout),
		BackendTimeout:     getEnvDurationOrDefault("BACKEND_TIMEOUT", apiclient.DefaultRequestTimeout),
		TokenLeeway:        getEnvDurationOrDefault("JWT_LEEWAY", 0),
		TokenIssuer:        os.Getenv("JWT_ISSUER"),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 3000),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	if cfg.AccessSecret == "" && cfg.IsDev() {
		cfg.AccessSecret = devAccessSecret
	}

	return cfg
}

// Validate reports configuration the service cannot start with.
func (c Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("BACKEND_URL is required")
	}
	if c.AccessSecret == "" {
		return errors.New("JWT_ACCESS_SECRET is required outside dev")
	}
	return nil
}

func (c Config) IsDev() bool { return c.Env == "dev" }

// Production controls the Secure flag on credential cookies.
func (c Config) Production() bool { return c.Env == "prod" || c.Env == "production" }

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "24h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds, matching cookie max-age
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
