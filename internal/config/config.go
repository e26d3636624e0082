// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	FrontendURL    string
	AllowedOrigins []string
	DBPath         string
	CatalogPath    string
	LogLevel       slog.Level
	SessionTTL     time.Duration
	ShareTargetURL string
	GRPCHealthAddr string
	MetricsEnabled bool
	StreamDelay    time.Duration

	History   HistoryConfig
	Payment   PaymentConfig
	LLM       LLMConfig
	RateLimit RateLimitConfig
}

// HistoryConfig controls anti-repeat tracking.
type HistoryConfig struct {
	Backend       string // "sqlite" or "memory"
	Window        time.Duration
	Limit         int
	MaxSessions   int
	SweepInterval time.Duration
}

// PaymentConfig controls the x402 payment gate.
type PaymentConfig struct {
	PayTo          string
	FacilitatorURL string
	Price          string
	Network        string
	Secret         string
	ChallengeTTL   time.Duration
	Description    string
}

// Enabled reports whether requests must carry a payment.
func (p PaymentConfig) Enabled() bool {
	return p.PayTo != "" && p.FacilitatorURL != ""
}

// LLMConfig selects and tunes the text-generation provider.
type LLMConfig struct {
	Provider     string // "", "openai" or "gemini"
	Model        string
	APIKey       string
	BaseURL      string
	GeminiAPIKey string
	Temperature  float64
	MaxTokens    int
	Timeout      time.Duration
}

// RateLimitConfig bounds per-identity request rates.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// History backends.
const (
	HistorySQLite = "sqlite"
	HistoryMemory = "memory"
)

// LLM providers.
const (
	ProviderNone   = ""
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Networks supported by the payment gate.
const (
	NetworkBase        = "base"
	NetworkBaseSepolia = "base-sepolia"
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		FrontendURL:    getEnv("FRONTEND_URL", ""),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		DBPath:         getEnv("DB_PATH", "./data/answerbook.db"),
		CatalogPath:    getEnv("CATALOG_PATH", ""),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		SessionTTL:     getEnvDuration("SESSION_TTL", 30*24*time.Hour),
		ShareTargetURL: getEnv("SHARE_TARGET_URL", "https://www.answerbook.app/"),
		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
		StreamDelay:    getEnvDuration("STREAM_CHUNK_DELAY", 40*time.Millisecond),
		History: HistoryConfig{
			Backend:       strings.ToLower(getEnv("HISTORY_BACKEND", HistorySQLite)),
			Window:        getEnvDuration("HISTORY_WINDOW", 24*time.Hour),
			Limit:         getEnvInt("HISTORY_LIMIT", 50),
			MaxSessions:   getEnvInt("HISTORY_MAX_SESSIONS", 10000),
			SweepInterval: getEnvDuration("HISTORY_SWEEP_INTERVAL", 10*time.Minute),
		},
		Payment: PaymentConfig{
			PayTo:          getEnv("PAY_TO_ADDRESS", ""),
			FacilitatorURL: strings.TrimRight(getEnv("FACILITATOR_URL", ""), "/"),
			Price:          getEnv("PRICE", "0.5"),
			Network:        networkFromEnv(),
			Secret:         getEnv("PAYMENT_SECRET", ""),
			ChallengeTTL:   getEnvDuration("PAYMENT_CHALLENGE_TTL", 5*time.Minute),
			Description:    getEnv("PAYMENT_DESCRIPTION", "Answer Book consultation"),
		},
		LLM: LLMConfig{
			Provider:     strings.ToLower(getEnv("LLM_PROVIDER", "")),
			Model:        getEnv("LLM_MODEL", ""),
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			BaseURL:      strings.TrimRight(getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			Temperature:  getEnvFloat("LLM_TEMPERATURE", 0.8),
			MaxTokens:    getEnvInt("LLM_MAX_TOKENS", 500),
			Timeout:      getEnvDuration("LLM_TIMEOUT", 20*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getEnvInt("RATE_LIMIT_RPM", 30),
			Burst:             getEnvInt("RATE_LIMIT_BURST", 10),
		},
	}

	// An OpenAI key alone selects the OpenAI provider.
	if cfg.LLM.Provider == ProviderNone && cfg.LLM.APIKey != "" {
		cfg.LLM.Provider = ProviderOpenAI
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultModel(cfg.LLM.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("DB_PATH cannot be empty"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be > 0"))
	}

	switch c.History.Backend {
	case HistorySQLite, HistoryMemory:
	default:
		errs = append(errs, fmt.Errorf("HISTORY_BACKEND %q must be %q or %q", c.History.Backend, HistorySQLite, HistoryMemory))
	}
	if c.History.Window <= 0 {
		errs = append(errs, errors.New("HISTORY_WINDOW must be > 0"))
	}
	if c.History.Limit <= 0 {
		errs = append(errs, errors.New("HISTORY_LIMIT must be > 0"))
	}
	if c.History.MaxSessions <= 0 {
		errs = append(errs, errors.New("HISTORY_MAX_SESSIONS must be > 0"))
	}
	if c.History.SweepInterval <= 0 {
		errs = append(errs, errors.New("HISTORY_SWEEP_INTERVAL must be > 0"))
	}

	if _, err := strconv.ParseFloat(c.Payment.Price, 64); err != nil {
		errs = append(errs, fmt.Errorf("PRICE %q is not a number", c.Payment.Price))
	}
	if c.Payment.ChallengeTTL <= 0 {
		errs = append(errs, errors.New("PAYMENT_CHALLENGE_TTL must be > 0"))
	}

	switch c.LLM.Provider {
	case ProviderNone:
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLM.Provider))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, errors.New("LLM_MAX_TOKENS must be > 0"))
	}

	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPM and RATE_LIMIT_BURST must be >= 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderGemini:
		return "gemini-2.5-flash"
	default:
		return "gpt-4o-mini"
	}
}

// networkFromEnv prefers NETWORK and falls back to CHAIN_ID, where "base"
// selects mainnet and anything else the Sepolia testnet.
func networkFromEnv() string {
	if n := strings.ToLower(getEnv("NETWORK", "")); n != "" {
		return n
	}
	switch strings.ToLower(getEnv("CHAIN_ID", "")) {
	case NetworkBase, "8453":
		return NetworkBase
	default:
		return NetworkBaseSepolia
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
