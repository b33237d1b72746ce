package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/akylbek/payment-system/flow-orchestrator/internal/fallback"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/models"
	"github.com/akylbek/payment-system/flow-orchestrator/internal/ratelimit"
)

type Config struct {
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   string
	NatsURL        string
	JaegerEndpoint string
	Port           string

	Fallback  fallback.Config
	RateLimit ratelimit.Config
	OpTimeout time.Duration
}

func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	jaegerEndpoint := os.Getenv("JAEGER_ENDPOINT")
	if jaegerEndpoint == "" {
		jaegerEndpoint = "jaeger:4318"
	}

	return &Config{
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		KafkaBrokers:   os.Getenv("KAFKA_BROKERS"),
		NatsURL:        os.Getenv("NATS_URL"),
		JaegerEndpoint: jaegerEndpoint,
		Port:           port,

		Fallback: fallback.Config{
			Mode:                envString("FALLBACK_MODE", fallback.ModeManual),
			TriggerErrorCodes:   envCodes("FALLBACK_TRIGGER_CODES", "provider_unavailable,network_error,timeout"),
			BlockedErrorCodes:   envCodes("FALLBACK_BLOCKED_CODES", "card_declined,insufficient_funds,expired_card"),
			ProviderPriority:    envList("PROVIDER_PRIORITY", "stripe,paypal"),
			MaxAttempts:         envInt("FALLBACK_MAX_ATTEMPTS", 2),
			MaxAutoFallbacks:    envInt("FALLBACK_MAX_AUTO", 1),
			UserResponseTimeout: envDuration("FALLBACK_RESPONSE_TIMEOUT", 30*time.Second),
			AutoFallbackDelay:   envDuration("FALLBACK_AUTO_DELAY", 3*time.Second),
		},
		RateLimit: ratelimit.Config{
			MaxRequests: envInt("RATE_LIMIT_MAX_REQUESTS", 30),
			Window:      envDuration("RATE_LIMIT_WINDOW", time.Second),
			PerEndpoint: envString("RATE_LIMIT_PER_ENDPOINT", "true") == "true",
		},
		OpTimeout: envDuration("PROVIDER_OP_TIMEOUT", 15*time.Second),
	}
}

func envString(key, fallbackValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallbackValue
}

func envInt(key string, fallbackValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallbackValue
}

func envDuration(key string, fallbackValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallbackValue
}

func envList(key, fallbackValue string) []string {
	raw := envString(key, fallbackValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envCodes(key, fallbackValue string) []models.ErrorCode {
	list := envList(key, fallbackValue)
	codes := make([]models.ErrorCode, 0, len(list))
	for _, s := range list {
		codes = append(codes, models.ErrorCode(s))
	}
	return codes
}
