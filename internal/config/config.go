// Package config provides configuration loading and validation for the
// governance service. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the governance service.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// JWT Authentication. The previous secret is optional and accepted
	// during key rotation.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTSecretPrevious string `koanf:"jwt_secret_previous"`

	// Redis (rate limiting; optional, disabled when empty)
	RedisURL string `koanf:"redis_url"`

	// R2 (Cloudflare Object Storage) for export artifacts
	R2BucketName      string `koanf:"r2_bucket_name"`
	R2AccessKeyID     string `koanf:"r2_access_key_id"`
	R2SecretAccessKey string `koanf:"r2_secret_access_key"`
	R2Endpoint        string `koanf:"r2_endpoint"`

	// Retention sweeper
	SweepSchedule string `koanf:"sweep_schedule"`
	SweepOnStart  bool   `koanf:"sweep_on_start"`

	// Tracing (optional, disabled when endpoint is empty)
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL       = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret         = errors.New("JWT_SECRET is required")
	ErrMissingR2BucketName      = errors.New("R2_BUCKET_NAME is required")
	ErrMissingR2AccessKeyID     = errors.New("R2_ACCESS_KEY_ID is required")
	ErrMissingR2SecretAccessKey = errors.New("R2_SECRET_ACCESS_KEY is required")
	ErrMissingR2Endpoint        = errors.New("R2_ENDPOINT is required")
	ErrInvalidPort              = errors.New("PORT must be a valid integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultSweepSchedule     = "0 */6 * * *"
	DefaultTracingSampleRate = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid
	// Try GOV_PORT first, then PORT for backward compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"GOV_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	sweepOnStart := envBool("GOV_SWEEP_ON_START", k.Bool("sweep_on_start"))
	tracingEnabled := envBool("GOV_TRACING_ENABLED", k.Bool("tracing_enabled"))

	sampleRate := k.Float64("tracing_sample_rate")
	if val := os.Getenv("GOV_TRACING_SAMPLE_RATE"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("GOV_TRACING_SAMPLE_RATE must be a number: %w", err))
		} else {
			sampleRate = f
		}
	}
	if sampleRate == 0 {
		sampleRate = DefaultTracingSampleRate
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:              port,
		Env:               getEnvOrDefaultMulti([]string{"GOV_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:       getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		JWTSecret:         getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTSecretPrevious: getEnvOrKoanf("JWT_SECRET_PREVIOUS", k, "jwt_secret_previous"),
		RedisURL:          getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		R2BucketName:      getEnvOrKoanf("R2_BUCKET_NAME", k, "r2_bucket_name"),
		R2AccessKeyID:     getEnvOrKoanf("R2_ACCESS_KEY_ID", k, "r2_access_key_id"),
		R2SecretAccessKey: getEnvOrKoanf("R2_SECRET_ACCESS_KEY", k, "r2_secret_access_key"),
		R2Endpoint:        getEnvOrKoanf("R2_ENDPOINT", k, "r2_endpoint"),
		SweepSchedule:     getEnvOrDefault("GOV_SWEEP_SCHEDULE", k.String("sweep_schedule"), DefaultSweepSchedule),
		SweepOnStart:      sweepOnStart,
		TracingEnabled:    tracingEnabled,
		TracingExporter:   getEnvOrDefault("GOV_TRACING_EXPORTER", k.String("tracing_exporter"), "otlp-http"),
		OTLPEndpoint:      getEnvOrKoanf("GOV_OTLP_ENDPOINT", k, "otlp_endpoint"),
		TracingSampleRate: sampleRate,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// envBool overrides a file value with an environment variable when set.
func envBool(envKey string, fileVal bool) bool {
	val := os.Getenv(envKey)
	if val == "" {
		return fileVal
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fileVal
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
// Note: A port value of 0 from a YAML file will fall back to the default; port 0 is not supported in YAML files.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	// R2 configuration is optional (exports fall back to the in-memory blob
	// store). Only validate fields if any R2 value is set.
	if c.R2BucketName != "" || c.R2AccessKeyID != "" || c.R2SecretAccessKey != "" || c.R2Endpoint != "" {
		if c.R2BucketName == "" {
			errs = append(errs, ErrMissingR2BucketName)
		}
		if c.R2AccessKeyID == "" {
			errs = append(errs, ErrMissingR2AccessKeyID)
		}
		if c.R2SecretAccessKey == "" {
			errs = append(errs, ErrMissingR2SecretAccessKey)
		}
		if c.R2Endpoint == "" {
			errs = append(errs, ErrMissingR2Endpoint)
		}
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                 fmt.Sprintf("%d", c.Port),
		"env":                  c.Env,
		"database_url":         maskDatabaseURL(c.DatabaseURL),
		"jwt_secret":           maskSecret(c.JWTSecret),
		"redis_url":            maskDatabaseURL(c.RedisURL),
		"r2_bucket_name":       c.R2BucketName,
		"r2_access_key_id":     maskSecret(c.R2AccessKeyID),
		"r2_secret_access_key": maskSecret(c.R2SecretAccessKey),
		"r2_endpoint":          c.R2Endpoint,
		"sweep_schedule":       c.SweepSchedule,
		"sweep_on_start":       fmt.Sprintf("%t", c.SweepOnStart),
		"tracing_enabled":      fmt.Sprintf("%t", c.TracingEnabled),
		"otlp_endpoint":        c.OTLPEndpoint,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
