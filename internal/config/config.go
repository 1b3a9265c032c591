package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the outbound dialer service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel string
	LogFile  string

	CallInactivityTimeout time.Duration
	TerminateRetryBase    time.Duration
	TerminateRetryCap     time.Duration

	DefaultConcurrencyLimit int
	DefaultPacingInterval   time.Duration
	MaxDialAttempts         int

	CallbackBaseURL      string
	ProviderBaseURL      string
	ProviderAccountID    string
	ProviderAuthToken    string
	WebhookSigningSecret string
	CallerID             string
	RecordCalls          bool

	AgentGatewayURL    string
	AgentGatewayAPIKey string
	AgentID            string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:        envOrDefault("APP_METRICS_NAMESPACE", "outdial"),
		AllowAnyOrigin:          false,
		LogLevel:                envOrDefault("LOG_LEVEL", "info"),
		LogFile:                 stringsTrimSpace("LOG_FILE"),
		ShutdownTimeout:         15 * time.Second,
		CallInactivityTimeout:   60 * time.Second,
		TerminateRetryBase:      200 * time.Millisecond,
		TerminateRetryCap:       2 * time.Second,
		DefaultConcurrencyLimit: 3,
		DefaultPacingInterval:   2 * time.Second,
		MaxDialAttempts:         3,
		CallbackBaseURL:         stringsTrimSpace("CALLBACK_BASE_URL"),
		ProviderBaseURL:         envOrDefault("TELEPHONY_BASE_URL", "https://api.telephony.example.com"),
		ProviderAccountID:       stringsTrimSpace("TELEPHONY_ACCOUNT_ID"),
		ProviderAuthToken:       stringsTrimSpace("TELEPHONY_AUTH_TOKEN"),
		WebhookSigningSecret:    stringsTrimSpace("TELEPHONY_WEBHOOK_SECRET"),
		CallerID:                stringsTrimSpace("TELEPHONY_CALLER_ID"),
		AgentGatewayURL:         envOrDefault("AGENT_GATEWAY_URL", "https://api.agent.example.com"),
		AgentGatewayAPIKey:      stringsTrimSpace("AGENT_GATEWAY_API_KEY"),
		AgentID:                 envOrDefault("AGENT_ID", "default"),
		DatabaseURL:             stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CallInactivityTimeout, err = durationFromEnv("CALL_INACTIVITY_TIMEOUT", cfg.CallInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultPacingInterval, err = durationFromEnv("CAMPAIGN_PACING_INTERVAL", cfg.DefaultPacingInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultConcurrencyLimit, err = intFromEnv("CAMPAIGN_CONCURRENCY_LIMIT", cfg.DefaultConcurrencyLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxDialAttempts, err = intFromEnv("CAMPAIGN_MAX_DIAL_ATTEMPTS", cfg.MaxDialAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RecordCalls, err = boolFromEnv("TELEPHONY_RECORD_CALLS", cfg.RecordCalls)
	if err != nil {
		return Config{}, err
	}

	if cfg.CallInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("CALL_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.DefaultConcurrencyLimit <= 0 {
		return Config{}, fmt.Errorf("CAMPAIGN_CONCURRENCY_LIMIT must be positive")
	}
	if cfg.DefaultPacingInterval < 0 {
		return Config{}, fmt.Errorf("CAMPAIGN_PACING_INTERVAL must not be negative")
	}
	if cfg.MaxDialAttempts <= 0 {
		return Config{}, fmt.Errorf("CAMPAIGN_MAX_DIAL_ATTEMPTS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
