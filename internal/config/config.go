package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all service settings, loaded from the environment.
type Config struct {
	// HTTP
	Port string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisAddr     string
	RedisPassword string
	PoolCacheTTL  time.Duration

	// Chain: mode is "rpc" or "dev". Simulation mode is only ever selected
	// explicitly; missing credentials in rpc mode are a startup error, never
	// a silent fallback to fabricated transactions.
	ChainMode         string
	ChainRPCURL       string
	ChainID           int64
	ChainPrivateKey   string
	ExchangeAddress   string
	StablecoinAddress string

	// Transaction monitoring
	MonitorInterval time.Duration
	MonitorTimeout  time.Duration

	// Reconciliation
	ReconcileInterval time.Duration
	ReconcileMinAge   time.Duration
}

// Load reads the configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "liquidity_ledger"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		PoolCacheTTL:  getDurationEnv("POOL_CACHE_TTL", 30*time.Second),

		ChainMode:         getEnv("CHAIN_MODE", "rpc"),
		ChainRPCURL:       getEnv("CHAIN_RPC_URL", "http://localhost:8545"),
		ChainID:           getInt64Env("CHAIN_ID", 1),
		ChainPrivateKey:   getEnv("CHAIN_PRIVATE_KEY", ""),
		ExchangeAddress:   getEnv("EXCHANGE_ADDRESS", ""),
		StablecoinAddress: getEnv("STABLECOIN_ADDRESS", ""),

		MonitorInterval: getDurationEnv("MONITOR_INTERVAL", 2*time.Second),
		MonitorTimeout:  getDurationEnv("MONITOR_TIMEOUT", 150*time.Second),

		ReconcileInterval: getDurationEnv("RECONCILE_INTERVAL", 30*time.Second),
		ReconcileMinAge:   getDurationEnv("RECONCILE_MIN_AGE", 3*time.Minute),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt64Env(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
