package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/avvvet/brain/internal/models"
)

// Session store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

type Config struct {
	// NATS configuration
	NatsURL            string
	NatsRequestSubject string
	NatsQueueGroup     string
	NatsTimeout        time.Duration
	NatsMaxInFlight    int

	// Anthropic configuration, optional: without a key only the table policy runs
	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicTimeout time.Duration
	LLMWeight        float64

	// Decision engine configuration
	EngineConfigPath    string
	HistoryMaxLength    int
	FallbackAction      models.ActionTag
	EscalationAction    models.ActionTag
	EscalationSeverity  models.Severity
	MaxCommitRetries    int
	PolicyTimeout       time.Duration
	StoreTimeout        time.Duration
	DegradeOnInfraError bool

	// Session store configuration
	SessionStore string
	RedisURL     string
	SessionTTL   time.Duration
	SQLitePath   string

	// Observability
	MetricsAddr     string
	OTELEndpoint    string
	OTELSampleRatio float64
	LogLevel        slog.Level

	// Service configuration
	ServiceName string
}

func Load() (*Config, error) {
	cfg := &Config{
		// NATS settings
		NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
		NatsRequestSubject: getEnv("NATS_REQUEST_SUBJECT", "brain.decide"),
		NatsQueueGroup:     getEnv("NATS_QUEUE_GROUP", "brain"),
		NatsTimeout:        getDurationEnv("NATS_TIMEOUT", 30*time.Second),
		NatsMaxInFlight:    getIntEnv("NATS_MAX_IN_FLIGHT", 64),

		// Anthropic settings
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
		AnthropicTimeout: getDurationEnv("ANTHROPIC_TIMEOUT", 30*time.Second),
		LLMWeight:        getFloatEnv("LLM_WEIGHT", 0.8),

		// Engine settings
		EngineConfigPath:    getEnv("ENGINE_CONFIG", "config/engine.yaml"),
		HistoryMaxLength:    getIntEnv("HISTORY_MAX_LENGTH", 10),
		FallbackAction:      models.ActionTag(getEnv("FALLBACK_ACTION", string(models.ActionAskClarification))),
		EscalationAction:    models.ActionTag(getEnv("ESCALATION_ACTION", string(models.ActionEscalateToHuman))),
		MaxCommitRetries:    getIntEnv("MAX_COMMIT_RETRIES", 3),
		PolicyTimeout:       getDurationEnv("POLICY_TIMEOUT", 2*time.Second),
		StoreTimeout:        getDurationEnv("STORE_TIMEOUT", time.Second),
		DegradeOnInfraError: getBoolEnv("DEGRADE_ON_INFRA_ERROR", false),

		// Store settings
		SessionStore: strings.ToLower(getEnv("SESSION_STORE", StoreMemory)),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SessionTTL:   getDurationEnv("SESSION_TTL", 30*time.Minute),
		SQLitePath:   getEnv("SQLITE_PATH", "brain.db"),

		// Observability settings
		MetricsAddr:     getEnv("METRICS_ADDR", ":9090"),
		OTELEndpoint:    getEnv("OTEL_ENDPOINT", ""),
		OTELSampleRatio: getFloatEnv("OTEL_SAMPLE_RATIO", 1),

		// Service settings
		ServiceName: getEnv("SERVICE_NAME", "brain"),
	}

	severity, err := models.ParseSeverity(getEnv("ESCALATION_SEVERITY", "CRITICAL"))
	if err != nil {
		return nil, fmt.Errorf("ESCALATION_SEVERITY: %w", err)
	}
	cfg.EscalationSeverity = severity

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "INFO"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.SessionStore {
	case StoreMemory, StoreRedis, StoreSQLite:
	default:
		return fmt.Errorf("SESSION_STORE must be one of %s|%s|%s, got %q", StoreMemory, StoreRedis, StoreSQLite, c.SessionStore)
	}
	if c.HistoryMaxLength <= 0 {
		return fmt.Errorf("HISTORY_MAX_LENGTH must be positive, got %d", c.HistoryMaxLength)
	}
	if c.MaxCommitRetries < 0 {
		return fmt.Errorf("MAX_COMMIT_RETRIES must not be negative, got %d", c.MaxCommitRetries)
	}
	if c.FallbackAction == "" || c.EscalationAction == "" {
		return fmt.Errorf("FALLBACK_ACTION and ESCALATION_ACTION must not be empty")
	}
	if c.OTELSampleRatio < 0 || c.OTELSampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be in [0, 1], got %v", c.OTELSampleRatio)
	}
	if c.NatsMaxInFlight <= 0 {
		return fmt.Errorf("NATS_MAX_IN_FLIGHT must be positive, got %d", c.NatsMaxInFlight)
	}
	// Confidences are capped at 1 when ranked
	if c.LLMWeight <= 0 || c.LLMWeight > 1 {
		return fmt.Errorf("LLM_WEIGHT must be in (0, 1], got %v", c.LLMWeight)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
