package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CurrencyScales maps an ISO currency code to its decimal rounding scale,
// e.g. USD -> 2, JPY -> 0.
type CurrencyScales map[string]int32

// RetryConfig holds the settlement gateway's backoff parameters.
type RetryConfig struct {
	BaseDelay  time.Duration
	CapDelay   time.Duration
	JitterPct  float64
}

type Config struct {
	Debug bool

	// Inbound/outbound broker endpoints (Kafka-family)
	ExecutionFeedBrokers []string
	ExecutionFeedTopic   string
	TradeEventsBrokers   []string
	TradeEventsTopic     string

	// Dedupe
	DedupeHorizonDays int

	// Settlement gateway
	SettlementGatewayURL     string
	SettlementGatewayTimeout time.Duration
	GatewayRetry             RetryConfig

	// Currency scale table for rounding
	CurrencyScales CurrencyScales

	// Store
	DatabaseURL string

	// Worker pool
	WorkerCount int
}

func Load() (*Config, error) {
	cfg := &Config{
		Debug: getEnvBool("DEBUG", false),

		ExecutionFeedBrokers: getEnvList("EXECUTION_FEED_BROKERS", []string{"localhost:9092"}),
		ExecutionFeedTopic:   getEnv("EXECUTION_FEED_TOPIC", "fix.executions"),
		TradeEventsBrokers:   getEnvList("TRADE_EVENTS_BROKERS", []string{"localhost:9092"}),
		TradeEventsTopic:     getEnv("TRADE_EVENTS_TOPIC", "trade.events"),

		DedupeHorizonDays: getEnvInt("DEDUPE_HORIZON_DAYS", 7),

		SettlementGatewayURL:     getEnv("SETTLEMENT_GATEWAY_URL", "https://settlement.internal/v1/settlements"),
		SettlementGatewayTimeout: getEnvDuration("SETTLEMENT_GATEWAY_TIMEOUT", 10*time.Second),
		GatewayRetry: RetryConfig{
			BaseDelay: time.Duration(getEnvInt("GATEWAY_RETRY_BASE_MS", 250)) * time.Millisecond,
			CapDelay:  time.Duration(getEnvInt("GATEWAY_RETRY_CAP_MS", 30000)) * time.Millisecond,
			JitterPct: getEnvFloat("GATEWAY_RETRY_JITTER_PCT", 0.20),
		},

		CurrencyScales: getEnvCurrencyScales("CURRENCY_SCALES", CurrencyScales{
			"USD": 2, "EUR": 2, "GBP": 2, "JPY": 0,
		}),

		DatabaseURL: getEnv("DATABASE_URL", "data/postengine.db"),
		WorkerCount: getEnvInt("WORKER_COUNT", 4),
	}

	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WORKER_COUNT must be >= 1, got %d", cfg.WorkerCount)
	}

	return cfg, nil
}

// ScaleFor returns the rounding scale for a currency, defaulting to 2
// (cents) for currencies not present in the table.
func (c CurrencyScales) ScaleFor(currency string) int32 {
	if scale, ok := c[strings.ToUpper(currency)]; ok {
		return scale
	}
	return 2
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

// getEnvCurrencyScales parses a comma-separated CCY:scale list, e.g.
// "USD:2,EUR:2,JPY:0".
func getEnvCurrencyScales(key string, defaultValue CurrencyScales) CurrencyScales {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	out := make(CurrencyScales, len(defaultValue))
	for k, v := range defaultValue {
		out[k] = v
	}

	for _, pair := range strings.Split(value, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		scale, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(kv[0]))] = int32(scale)
	}
	return out
}
