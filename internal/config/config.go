// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Storage settings.
	BackendStoreURI string // Directory, file:// URI, or postgres:// DSN.
	ArtifactRoot    string // file:// URI or directory for run artifacts.

	// Auth settings. An empty APIKey disables authentication.
	APIKey            string
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum JSON request body size in bytes.
	MaxArtifactBytes    int64 // Maximum single artifact upload in bytes.

	// Rate limiting. Each authenticated subject (or client IP when auth is
	// disabled) gets RateLimitRPS requests per second with bursts of
	// RateLimitBurst.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	str := envStr
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	decimal := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := envBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := Config{
		Port:                num("TSUISEKI_PORT", 5000),
		ReadTimeout:         dur("TSUISEKI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        dur("TSUISEKI_WRITE_TIMEOUT", 5*time.Minute),
		ShutdownTimeout:     dur("TSUISEKI_SHUTDOWN_TIMEOUT", 10*time.Second),
		BackendStoreURI:     str("TSUISEKI_BACKEND_STORE_URI", "tsuiseki-data"),
		ArtifactRoot:        str("TSUISEKI_ARTIFACT_ROOT", ""),
		APIKey:              str("TSUISEKI_API_KEY", ""),
		JWTPrivateKeyPath:   str("TSUISEKI_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    str("TSUISEKI_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       dur("TSUISEKI_JWT_EXPIRATION", 24*time.Hour),
		OTELEndpoint:        str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:         str("OTEL_SERVICE_NAME", "tsuiseki"),
		OTELInsecure:        flag("TSUISEKI_OTEL_INSECURE", false),
		LogLevel:            str("TSUISEKI_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(num("TSUISEKI_MAX_REQUEST_BODY_BYTES", 4*1024*1024)),
		MaxArtifactBytes:    int64(num("TSUISEKI_MAX_ARTIFACT_BYTES", 512*1024*1024)),
		RateLimitEnabled:    flag("TSUISEKI_RATE_LIMIT_ENABLED", false),
		RateLimitRPS:        decimal("TSUISEKI_RATE_LIMIT_RPS", 100),
		RateLimitBurst:      num("TSUISEKI_RATE_LIMIT_BURST", 500),
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: TSUISEKI_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.BackendStoreURI) == "" {
		return fmt.Errorf("config: TSUISEKI_BACKEND_STORE_URI is required")
	}
	if c.JWTExpiration <= 0 {
		return fmt.Errorf("config: TSUISEKI_JWT_EXPIRATION must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: TSUISEKI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.MaxArtifactBytes <= 0 {
		return fmt.Errorf("config: TSUISEKI_MAX_ARTIFACT_BYTES must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: TSUISEKI_RATE_LIMIT_RPS and TSUISEKI_RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: TSUISEKI_LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// IsRemote reports whether the backend store is a Postgres DSN.
func (c Config) IsRemote() bool {
	return strings.HasPrefix(c.BackendStoreURI, "postgres://") || strings.HasPrefix(c.BackendStoreURI, "postgresql://")
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
