package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage engines
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Directory modes
const (
	DirectoryPostgres = "postgres"
	DirectoryHTTP     = "http"
	DirectoryMemory   = "memory"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Statistics domain
	Import    ImportConfig
	Stats     StatsConfig
	Directory DirectoryConfig
	Scheduler SchedulerConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	AutoMigrate bool

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// ImportConfig holds bulk upload settings
type ImportConfig struct {
	MaxUploadMB   int
	RulesFile     string // YAML, optional
	RatePerMinute int    // uploads per client per minute, 0 = unlimited
}

// StatsConfig holds aggregation settings
type StatsConfig struct {
	Store         string          // postgres | memory
	BaselinePrice decimal.Decimal // 기준가 시작값
	CacheTTL      time.Duration   // monthly page cache (redis)
}

// DirectoryConfig holds strategy directory (member management) settings
type DirectoryConfig struct {
	Mode     string // postgres | http | memory
	BaseURL  string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// SchedulerConfig holds the consistency audit job settings
type SchedulerConfig struct {
	Enabled             bool
	ConsistencySchedule string // cron spec
	AutoRepair          bool
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	baseline, err := decimal.NewFromString(getEnv("STATS_BASELINE_PRICE", "1000"))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: STATS_BASELINE_PRICE: %w", err)
	}

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", false),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Import: ImportConfig{
			MaxUploadMB:   getEnvAsInt("IMPORT_MAX_UPLOAD_MB", 10),
			RulesFile:     getEnv("IMPORT_RULES_FILE", ""),
			RatePerMinute: getEnvAsInt("IMPORT_RATE_PER_MINUTE", 30),
		},

		Stats: StatsConfig{
			Store:         getEnv("STATS_STORE", StorePostgres),
			BaselinePrice: baseline,
			CacheTTL:      getEnvAsDuration("STATS_CACHE_TTL", "10m"),
		},

		Directory: DirectoryConfig{
			Mode:     getEnv("DIRECTORY_MODE", DirectoryPostgres),
			BaseURL:  getEnv("DIRECTORY_BASE_URL", ""),
			CacheTTL: getEnvAsDuration("DIRECTORY_CACHE_TTL", "5m"),
			Timeout:  getEnvAsDuration("DIRECTORY_TIMEOUT", "5s"),
		},

		Scheduler: SchedulerConfig{
			Enabled:             getEnvAsBool("SCHEDULER_ENABLED", false),
			ConsistencySchedule: getEnv("CONSISTENCY_SCHEDULE", "0 30 3 * * *"),
			AutoRepair:          getEnvAsBool("CONSISTENCY_AUTO_REPAIR", false),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Monitoring
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// NeedsDatabase reports whether any configured component talks to PostgreSQL
func (c *Config) NeedsDatabase() bool {
	return c.Stats.Store == StorePostgres || c.Directory.Mode == DirectoryPostgres
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	// Validate environment
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	switch c.Stats.Store {
	case StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("STATS_STORE must be one of: postgres, memory")
	}

	switch c.Directory.Mode {
	case DirectoryPostgres, DirectoryMemory:
	case DirectoryHTTP:
		if c.Directory.BaseURL == "" {
			return fmt.Errorf("DIRECTORY_BASE_URL is required when DIRECTORY_MODE=http")
		}
	default:
		return fmt.Errorf("DIRECTORY_MODE must be one of: postgres, http, memory")
	}

	// Database URL is required when postgres backs anything
	if c.NeedsDatabase() && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if !c.Stats.BaselinePrice.IsPositive() {
		return fmt.Errorf("STATS_BASELINE_PRICE must be positive")
	}

	if c.Import.MaxUploadMB <= 0 {
		return fmt.Errorf("IMPORT_MAX_UPLOAD_MB must be positive")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	// Try paths in order of priority
	paths := []string{
		".env",         // Current directory
		"backend/.env", // From project root
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
			filepath.Join(exeDir, "..", "..", ".env"),
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
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
