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

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	InvoiceBasis InvoiceBasisRuntimeConfig
	RefreshLock  RefreshLockConfig
}

// InvoiceBasisRuntimeConfig carries process-level settings for the engine.
type InvoiceBasisRuntimeConfig struct {
	DefaultCurrency    string
	DefaultPaymentDays int
	// MaxParallelRefresh bounds concurrent refreshes fired for one approval batch.
	// Zero means unbounded.
	MaxParallelRefresh int
}

// RefreshLockConfig configures the optional Redis per-key refresh lock.
type RefreshLockConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	WaitTimeout   time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "bygglogg"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "bygglogg.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		InvoiceBasis: InvoiceBasisRuntimeConfig{
			DefaultCurrency:    strings.ToUpper(getenv("INVOICE_BASIS_DEFAULT_CURRENCY", "SEK")),
			DefaultPaymentDays: getenvInt("INVOICE_BASIS_PAYMENT_TERMS_DAYS", 30),
			MaxParallelRefresh: getenvInt("INVOICE_BASIS_MAX_PARALLEL_REFRESH", 0),
		},
		RefreshLock: RefreshLockConfig{
			Enabled:       getenvBool("REFRESH_LOCK_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("REFRESH_LOCK_REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("REFRESH_LOCK_REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("REFRESH_LOCK_REDIS_DB", 0),
			TTL:           time.Duration(getenvInt("REFRESH_LOCK_TTL_SECONDS", 60)) * time.Second,
			WaitTimeout:   time.Duration(getenvInt("REFRESH_LOCK_WAIT_MS", 5000)) * time.Millisecond,
		},
	}

	return cfg
}

// IsProduction reports whether the process runs in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
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
