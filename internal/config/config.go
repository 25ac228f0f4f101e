package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "MozaBanking"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultStoreTimeout    = 3 * time.Second
	defaultMaxRetries      = 3
	defaultRetryBase       = 20 * time.Millisecond
	defaultLoginRateLimit  = 5
	defaultCORSOrigins     = "http://localhost:4200"
	minJWTSecretLength     = 32
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Lock backends understood by LOCK_BACKEND.
const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration
	StoreTimeout   time.Duration
	MaxRetries     int
	RetryBase      time.Duration
	LockBackend    string
	LoginRateLimit int
	CORSOrigins    string
	SeedDemoData   bool
	RunMigrations  bool
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		StoreTimeout:   defaultStoreTimeout,
		MaxRetries:     defaultMaxRetries,
		RetryBase:      defaultRetryBase,
		LoginRateLimit: defaultLoginRateLimit,
		CORSOrigins:    getEnv("CORS_ALLOWED_ORIGINS", defaultCORSOrigins),
		RunMigrations:  true,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = durationFromEnv("", "STORE_TIMEOUT", cfg.StoreTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RetryBase, err = durationFromEnv("", "TRANSFER_RETRY_BASE", cfg.RetryBase); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = intFromEnv("TRANSFER_MAX_RETRIES", cfg.MaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateLimit, err = intFromEnv("LOGIN_RATE_LIMIT", cfg.LoginRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.SeedDemoData, err = boolFromEnv("SEED_DEMO_DATA", false); err != nil {
		return Config{}, err
	}
	if cfg.RunMigrations, err = boolFromEnv("RUN_MIGRATIONS", true); err != nil {
		return Config{}, err
	}

	cfg.LockBackend = strings.ToLower(os.Getenv("LOCK_BACKEND"))
	if cfg.LockBackend == "" {
		cfg.LockBackend = LockBackendLocal
		if cfg.RedisURL != "" {
			cfg.LockBackend = LockBackendRedis
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if len(c.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("TRANSFER_MAX_RETRIES must not be negative")
	}
	switch c.LockBackend {
	case LockBackendLocal:
	case LockBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("LOCK_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}
	if c.IsDevelopment() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	return nil
}

// IsDevelopment reports whether in-memory fallbacks are allowed.
func (c Config) IsDevelopment() bool {
	switch c.AppEnv {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationFromEnv prefers an integer seconds variable and falls back to a
// Go duration string variable.
func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
