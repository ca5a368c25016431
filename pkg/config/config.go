package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all process-level configuration for the application
// ⭐ SSOT: every environment variable is read here and nowhere else
type Config struct {
	Env string // development, staging, production

	// Broker
	Alpaca AlpacaConfig

	// Persistence
	Storage  StorageConfig
	Database DatabaseConfig
	Redis    RedisConfig

	// Status API
	Server ServerConfig

	// Exchange-local timezone
	Timezone string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string

	// Monitoring
	MetricsEnabled bool
}

// AlpacaConfig holds Alpaca paper-trading API configuration
type AlpacaConfig struct {
	APIKey       string
	APISecret    string
	BaseURL      string // trading endpoint (must be paper)
	DataURL      string // market data endpoint
	StreamURL    string // trade_updates websocket
	Feed         string // iex or sip
	AccountAlias string
}

// StorageConfig selects where run state is persisted
type StorageConfig struct {
	Backend  string // file or postgres
	StateDir string
	CacheDir string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// ServerConfig holds status API configuration
type ServerConfig struct {
	Port string
}

// Storage backends
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Load reads configuration from environment variables
// ⭐ SSOT: the only function that calls os.Getenv()
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Env: getEnv("ENV", "development"),

		Alpaca: AlpacaConfig{
			APIKey:       getEnv("ALPACA_API_KEY", ""),
			APISecret:    getEnv("ALPACA_API_SECRET", ""),
			BaseURL:      getEnv("ALPACA_BASE_URL", "https://paper-api.alpaca.markets"),
			DataURL:      getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets"),
			StreamURL:    getEnv("ALPACA_STREAM_URL", "wss://paper-api.alpaca.markets/stream"),
			Feed:         strings.ToLower(getEnv("ALPACA_FEED", "iex")),
			AccountAlias: getEnv("ALPACA_ACCOUNT_ALIAS", "default"),
		},

		Storage: StorageConfig{
			Backend:  strings.ToLower(getEnv("STORAGE_BACKEND", BackendFile)),
			StateDir: getEnv("STATE_DIR", "state"),
			CacheDir: getEnv("CACHE_DIR", filepath.Join("cache", "bars")),
		},

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Server: ServerConfig{
			Port: getEnv("PORT", "8089"),
		},

		Timezone: getEnv("MARKET_TIMEZONE", "America/New_York"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		LogFile:   getEnv("LOG_FILE", ""),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	switch c.Storage.Backend {
	case BackendFile:
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of: file, postgres")
	}

	if c.Alpaca.Feed != "iex" && c.Alpaca.Feed != "sip" {
		return fmt.Errorf("ALPACA_FEED must be one of: iex, sip")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("MARKET_TIMEZONE %q is not a valid location: %w", c.Timezone, err)
	}

	return nil
}

// RequireBroker checks that broker credentials are present
// Called by commands that talk to the broker; scan-only tooling does not need them.
func (c *Config) RequireBroker() error {
	if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
		return fmt.Errorf("missing Alpaca credentials: set ALPACA_API_KEY and ALPACA_API_SECRET")
	}
	return nil
}

// Location returns the exchange-local time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
