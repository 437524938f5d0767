package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/borderpay/backend/internal/models"
)

// Config carries every tunable of the gateway. Loaded once in main and passed
// down explicitly; packages never read the environment themselves.
type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string

	// Payment verification.
	SolanaRPCURL   string
	MerchantWallet string
	SolUSDPrice    float64
	RPCMaxRetries  int
	RPCRetryDelay  time.Duration

	// Pricing, in micro-USD.
	PricePerRequestMicros   int64
	WelcomeBonusMicros      int64
	NotificationPriceMicros int64

	// Subscription engine.
	CheckInterval  time.Duration
	WebhookTimeout time.Duration

	// Fetcher cache.
	CacheTTL time.Duration

	// Ed25519 seed, hex-encoded. Empty means generate an ephemeral key.
	OraclePrivateKey string

	AllowedOrigins []string
}

// Load reads configuration from the environment, loading a .env file first if
// one is present. Only DATABASE_URL is required; everything else has a
// development default.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:        "0.0.0.0:" + getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		SolanaRPCURL:   getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		MerchantWallet: os.Getenv("MERCHANT_WALLET"),
		SolUSDPrice:    getEnvFloat("SOL_USD_PRICE", 150.0),
		RPCMaxRetries:  getEnvInt("RPC_MAX_RETRIES", 3),
		RPCRetryDelay:  getEnvDuration("RPC_RETRY_DELAY", time.Second),

		PricePerRequestMicros:   getEnvUSD("PRICE_PER_REQUEST_USD", 0.05),
		WelcomeBonusMicros:      getEnvUSD("WELCOME_BONUS_USD", 2.00),
		NotificationPriceMicros: getEnvUSD("SUBSCRIPTION_PRICE_USD", 0.20),

		CheckInterval:  getEnvDuration("SUBSCRIPTION_CHECK_INTERVAL", time.Minute),
		WebhookTimeout: getEnvDuration("WEBHOOK_TIMEOUT", 30*time.Second),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		OraclePrivateKey: os.Getenv("ORACLE_PRIVATE_KEY"),

		AllowedOrigins: []string{getEnv("ALLOWED_ORIGIN", "http://localhost:3000")},
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("missing required env: DATABASE_URL")
	}
	if cfg.SolUSDPrice <= 0 {
		return nil, fmt.Errorf("SOL_USD_PRICE must be > 0")
	}
	if cfg.RPCMaxRetries < 1 {
		cfg.RPCMaxRetries = 1
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

// getEnvUSD parses a decimal USD amount into micro-dollars.
func getEnvUSD(key string, defaultUSD float64) int64 {
	return models.MicrosFromUSD(getEnvFloat(key, defaultUSD))
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// Accept plain seconds for compatibility with integer-style env files.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
