// Package config loads the pipeline's runtime configuration from the
// environment (spec's "Configuration surface"), following the teacher's
// godotenv + fmt.Sscanf parsing idiom rather than a structured config
// library, since nothing in the pack pulls in viper/koanf/etc.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"liqwatch/market"
)

// Config holds every recognised configuration option (spec §6
// "Configuration surface").
type Config struct {
	FeedURL    string
	FeedAPIKey string

	Pairs      PairsConfig
	Monitoring MonitoringConfig
	Signals    SignalsConfig
	Context    MarketContextConfig
	Dashboard  DashboardConfig
	Outcome    OutcomeConfig

	Database DatabaseConfig
	Redis    RedisConfig
	Webhook  WebhookConfig
}

// PairsConfig lists the symbols subscribed, with priority weighting
// (spec: "pairs.{primary,secondary}: symbols subscribed with priority
// weighting").
type PairsConfig struct {
	Primary   []string
	Secondary []string
}

// MonitoringConfig assigns symbols to tiers (spec:
// "monitoring.tier{1,2,3}_symbols / tier{1,2,3}_cascade /
// large_order_threshold"). TierFor reads the tier symbol lists; the cascade
// and large-order fields are loaded from the environment but not read by the
// analyzers, which take their thresholds from analyzers.DefaultTierThresholds.
type MonitoringConfig struct {
	Tier1Symbols []string
	Tier2Symbols []string
	Tier3Symbols []string

	Tier1Cascade float64
	Tier2Cascade float64
	Tier3Cascade float64

	LargeOrderThreshold float64
}

// TierFor resolves a symbol's tier from the configured symbol lists,
// defaulting to t3 for any symbol never explicitly assigned (spec §4.3:
// "Symbol never seen before: default tier = t3").
func (m MonitoringConfig) TierFor(symbol string) market.Tier {
	for _, s := range m.Tier1Symbols {
		if s == symbol {
			return market.Tier1
		}
	}
	for _, s := range m.Tier2Symbols {
		if s == symbol {
			return market.Tier2
		}
	}
	return market.Tier3
}

// SignalsConfig governs the validator's acceptance gates (spec:
// "signals.min_confidence / max_signals_per_hour / cooldown_minutes /
// dedup_window").
type SignalsConfig struct {
	MinConfidence     float64
	MaxSignalsPerHour int
	CooldownMinutes   int
	DedupWindowSeconds int
}

// MarketContextConfig governs the context poller and filter (spec:
// "market_context.enabled / poll_interval / max_snapshots / filter_mode /
// confidence_adjust"). Enabled, PollIntervalSec and FilterMode are wired in
// app.Start; MaxSnapshots and ConfidenceAdjust are loaded but not read, since
// the poller's ring size and the filter's adjustment amounts are constants in
// their own packages.
type MarketContextConfig struct {
	Enabled          bool
	PollIntervalSec  int
	MaxSnapshots     int
	FilterMode       market.ContextMode
	ConfidenceAdjust float64
}

// DashboardConfig governs the dashboard API surface (spec:
// "dashboard.api_token / cors_origins / rate_limit_per_min").
type DashboardConfig struct {
	Port            int
	APIToken        string
	CORSOrigins     []string
	RateLimitPerMin int
}

// OutcomeConfig governs the outcome tracker (spec: "outcome.horizon_minutes
// / win_fraction").
type OutcomeConfig struct {
	HorizonMinutes int
	WinFraction    float64
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

// RedisConfig configures the optional snapshot cache.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// WebhookConfig configures the messaging sink's delivery endpoint.
type WebhookConfig struct {
	URL    string
	ChatID string
}

// LoadFromEnv loads configuration from environment variables, falling
// back to a .env file if present.
func LoadFromEnv() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		FeedURL:    getEnvOrDefault("FEED_WS_URL", "wss://feed.example.com/ws"),
		FeedAPIKey: os.Getenv("FEED_API_KEY"),

		Pairs: PairsConfig{
			Primary:   getEnvList("PAIRS_PRIMARY", []string{"BTCUSD", "ETHUSD"}),
			Secondary: getEnvList("PAIRS_SECONDARY", nil),
		},

		Monitoring: MonitoringConfig{
			Tier1Symbols: getEnvList("MONITORING_TIER1_SYMBOLS", []string{"BTCUSD", "ETHUSD"}),
			Tier2Symbols: getEnvList("MONITORING_TIER2_SYMBOLS", []string{"SOLUSD", "BNBUSD"}),
			Tier3Symbols: getEnvList("MONITORING_TIER3_SYMBOLS", nil),

			Tier1Cascade: getEnvFloat("MONITORING_TIER1_CASCADE", 500_000),
			Tier2Cascade: getEnvFloat("MONITORING_TIER2_CASCADE", 150_000),
			Tier3Cascade: getEnvFloat("MONITORING_TIER3_CASCADE", 50_000),

			LargeOrderThreshold: getEnvFloat("MONITORING_LARGE_ORDER_THRESHOLD", 25_000),
		},

		Signals: SignalsConfig{
			MinConfidence:      getEnvFloat("SIGNALS_MIN_CONFIDENCE", 70),
			MaxSignalsPerHour:  getEnvInt("SIGNALS_MAX_PER_HOUR", 50),
			CooldownMinutes:    getEnvInt("SIGNALS_COOLDOWN_MINUTES", 5),
			DedupWindowSeconds: getEnvInt("SIGNALS_DEDUP_WINDOW_SECONDS", 300),
		},

		Context: MarketContextConfig{
			Enabled:          getEnvOrDefault("MARKET_CONTEXT_ENABLED", "true") == "true",
			PollIntervalSec:  getEnvInt("MARKET_CONTEXT_POLL_INTERVAL_SECONDS", 300),
			MaxSnapshots:     getEnvInt("MARKET_CONTEXT_MAX_SNAPSHOTS", 200),
			FilterMode:       parseFilterMode(getEnvOrDefault("MARKET_CONTEXT_FILTER_MODE", "normal")),
			ConfidenceAdjust: getEnvFloat("MARKET_CONTEXT_CONFIDENCE_ADJUST", 10),
		},

		Dashboard: DashboardConfig{
			Port:            getEnvInt("DASHBOARD_PORT", 8089),
			APIToken:        os.Getenv("DASHBOARD_API_TOKEN"),
			CORSOrigins:     getEnvList("DASHBOARD_CORS_ORIGINS", []string{"*"}),
			RateLimitPerMin: getEnvInt("DASHBOARD_RATE_LIMIT_PER_MIN", 30),
		},

		Outcome: OutcomeConfig{
			HorizonMinutes: getEnvInt("OUTCOME_HORIZON_MINUTES", 15),
			WinFraction:    getEnvFloat("OUTCOME_WIN_FRACTION", 0.5),
		},

		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			Name:     getEnvOrDefault("DB_NAME", "liqwatch"),
			User:     getEnvOrDefault("DB_USER", "liqwatch"),
			Password: getEnvOrDefault("DB_PASSWORD", "liqwatch"),
		},

		Redis: RedisConfig{
			Host:     getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
		},

		Webhook: WebhookConfig{
			URL:    os.Getenv("WEBHOOK_URL"),
			ChatID: os.Getenv("WEBHOOK_CHAT_ID"),
		},
	}
}

func parseFilterMode(raw string) market.ContextMode {
	switch strings.ToLower(raw) {
	case "strict":
		return market.ContextStrict
	case "permissive":
		return market.ContextPermissive
	default:
		return market.ContextNormal
	}
}

// getEnvList splits a comma-separated environment variable into a trimmed,
// non-empty slice, or returns defaultValue if unset.
func getEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
