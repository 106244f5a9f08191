// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// EventLogConfig provides settings for event log appends.
type EventLogConfig interface {
	GetEventClockSkew() time.Duration
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq-backed background worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// ScoringConfig provides settings for the lead quality scorer.
type ScoringConfig interface {
	GetScoringConfigPath() string
	GetPhoneDefaultRegion() string
}

// PipelineConfig provides settings for the stage machine automation.
type PipelineConfig interface {
	GetAutoLossInactivity() time.Duration
	GetAutoLossSweepSpec() string
	GetSweepParallelism() int
}

// KPIConfig provides settings for the KPI aggregator.
type KPIConfig interface {
	GetKPIConfigPath() string
	GetKPIRecomputeSpec() string
	GetKPIBatchSize() int
}

// MinIOConfig provides settings for the KPI snapshot archive.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketKPIArchive() string
	IsMinIOEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                   string
	HTTPAddr              string
	DatabaseURL           string
	JWTAccessSecret       string
	EventClockSkew        time.Duration
	CORSAllowAll          bool
	CORSOrigins           []string
	CORSAllowCreds        bool
	RedisURL              string
	RedisTLSInsecure      bool
	AsynqQueueName        string
	AsynqConcurrency      int
	ScoringConfigPath     string
	PhoneDefaultRegion    string
	AutoLossInactivity    time.Duration
	AutoLossSweepSpec     string
	SweepParallelism      int
	KPIConfigPath         string
	KPIRecomputeSpec      string
	KPIBatchSize          int
	MinIOEndpoint         string
	MinIOAccessKey        string
	MinIOSecretKey        string
	MinIOUseSSL           bool
	MinioBucketKPIArchive string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// EventLogConfig implementation
func (c *Config) GetEventClockSkew() time.Duration { return c.EventClockSkew }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }

// ScoringConfig implementation
func (c *Config) GetScoringConfigPath() string  { return c.ScoringConfigPath }
func (c *Config) GetPhoneDefaultRegion() string { return c.PhoneDefaultRegion }

// PipelineConfig implementation
func (c *Config) GetAutoLossInactivity() time.Duration { return c.AutoLossInactivity }
func (c *Config) GetAutoLossSweepSpec() string         { return c.AutoLossSweepSpec }
func (c *Config) GetSweepParallelism() int             { return c.SweepParallelism }

// KPIConfig implementation
func (c *Config) GetKPIConfigPath() string    { return c.KPIConfigPath }
func (c *Config) GetKPIRecomputeSpec() string { return c.KPIRecomputeSpec }
func (c *Config) GetKPIBatchSize() int        { return c.KPIBatchSize }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string         { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string        { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string        { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool             { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketKPIArchive() string { return c.MinioBucketKPIArchive }
func (c *Config) IsMinIOEnabled() bool             { return c.MinIOEndpoint != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		JWTAccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
		EventClockSkew:        mustDuration(getEnv("EVENT_CLOCK_SKEW", "2m")),
		CORSAllowAll:          corsAllowAll,
		CORSOrigins:           corsOrigins,
		CORSAllowCreds:        strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:      mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		ScoringConfigPath:     getEnv("SCORING_CONFIG_PATH", ""),
		PhoneDefaultRegion:    strings.ToUpper(getEnv("PHONE_DEFAULT_REGION", "US")),
		AutoLossInactivity:    mustDuration(getEnv("AUTO_LOSS_INACTIVITY", "168h")),
		AutoLossSweepSpec:     getEnv("AUTO_LOSS_SWEEP_INTERVAL", "@every 1h"),
		SweepParallelism:      mustInt(getEnv("AUTO_LOSS_SWEEP_PARALLELISM", "4")),
		KPIConfigPath:         getEnv("KPI_CONFIG_PATH", ""),
		KPIRecomputeSpec:      getEnv("KPI_RECOMPUTE_INTERVAL", "@every 15m"),
		KPIBatchSize:          mustInt(getEnv("KPI_BATCH_SIZE", "500")),
		MinIOEndpoint:         getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:        getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:        getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:           strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketKPIArchive: getEnv("MINIO_BUCKET_KPI_ARCHIVE", "kpi-snapshots"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.AutoLossInactivity <= 0 {
		return nil, fmt.Errorf("AUTO_LOSS_INACTIVITY must be a positive duration")
	}
	if cfg.EventClockSkew < 0 {
		return nil, fmt.Errorf("EVENT_CLOCK_SKEW must not be negative")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
