package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string

	PaymentProvider string
	PaymentAPIKey   string
	PaymentEndpoint string

	// Booking lifecycle windows.
	ApprovalWindow      time.Duration
	PaymentWindow       time.Duration
	DisputeFilingWindow time.Duration

	Settlement SettlementConfig
}

// SettlementConfig controls the settlement orchestrator sweep.
type SettlementConfig struct {
	RunInterval    time.Duration
	BatchSize      int
	RetryBase      time.Duration
	RetryCeiling   int
	StaleThreshold time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "rentalsettle"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),

		PaymentProvider: getenv("PAYMENT_PROVIDER", "sandbox"),
		PaymentAPIKey:   getenv("PAYMENT_API_KEY", ""),
		PaymentEndpoint: getenv("PAYMENT_ENDPOINT", ""),

		ApprovalWindow:      getenvDuration("BOOKING_APPROVAL_WINDOW", 24*time.Hour),
		PaymentWindow:       getenvDuration("BOOKING_PAYMENT_WINDOW", 30*time.Minute),
		DisputeFilingWindow: getenvDuration("DISPUTE_FILING_WINDOW", 72*time.Hour),

		Settlement: SettlementConfig{
			RunInterval:    getenvDuration("SETTLEMENT_RUN_INTERVAL", time.Minute),
			BatchSize:      getenvInt("SETTLEMENT_BATCH_SIZE", 50),
			RetryBase:      getenvDuration("SETTLEMENT_RETRY_BASE", time.Minute),
			RetryCeiling:   getenvInt("SETTLEMENT_RETRY_CEILING", 8),
			StaleThreshold: getenvDuration("SETTLEMENT_STALE_THRESHOLD", time.Hour),
		},
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
