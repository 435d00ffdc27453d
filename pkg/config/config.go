package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string `toml:"log_level"`
	HTTPPort string `toml:"http_port"`

	// Storage
	StorageMode  string `toml:"storage_mode"` // "memory", "sqlite" or "postgres"
	SQLitePath   string `toml:"sqlite_path"`
	PostgresHost string `toml:"postgres_host"`
	PostgresPort string `toml:"postgres_port"`
	PostgresUser string `toml:"postgres_user"`
	PostgresPass string `toml:"postgres_password"`
	PostgresDB   string `toml:"postgres_db"`
	PostgresSSL  string `toml:"postgres_sslmode"`

	// Locking
	LockMode        string        `toml:"lock_mode"` // "local" or "redis"
	RedisAddr       string        `toml:"redis_addr"`
	RedisPassword   string        `toml:"redis_password"`
	RedisDB         int           `toml:"redis_db"`
	LockTTL         time.Duration `toml:"lock_ttl"`
	LockWaitTimeout time.Duration `toml:"lock_wait_timeout"`

	// Authentication
	AuthMode    string        `toml:"auth_mode"` // "signature" or "header"
	AuthMaxSkew time.Duration `toml:"auth_max_skew"`

	// Snapshot cache
	CacheTTL     time.Duration `toml:"cache_ttl"`
	CacheMaxCost int64         `toml:"cache_max_cost"`

	// Archive
	ArchiveMode      string `toml:"archive_mode"` // "none", "file" or "s3"
	ArchivePath      string `toml:"archive_path"`
	S3Endpoint       string `toml:"s3_endpoint"`
	S3Region         string `toml:"s3_region"`
	S3Bucket         string `toml:"s3_bucket"`
	S3Prefix         string `toml:"s3_prefix"`
	S3AccessKey      string `toml:"s3_access_key"`
	S3SecretKey      string `toml:"s3_secret_key"`
	S3UseSSL         bool   `toml:"s3_use_ssl"`
	S3ForcePathStyle bool   `toml:"s3_force_path_style"`

	// Custody
	CustodyMode string `toml:"custody_mode"` // "paper"

	// Event stream
	WSMessageBufferSize int `toml:"ws_message_buffer_size"`

	// RecoveryInterval is how often pending operations are rolled forward after
	// start-up. Zero runs recovery at start-up only.
	RecoveryInterval time.Duration `toml:"recovery_interval"`

	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		HTTPPort: "8080",

		StorageMode:  "memory",
		SQLitePath:   "parimutuel.db",
		PostgresHost: "localhost",
		PostgresPort: "5432",
		PostgresUser: "parimutuel",
		PostgresPass: "parimutuel",
		PostgresDB:   "parimutuel",
		PostgresSSL:  "disable",

		LockMode:        "local",
		RedisAddr:       "localhost:6379",
		LockTTL:         30 * time.Second,
		LockWaitTimeout: 10 * time.Second,

		AuthMode:    "signature",
		AuthMaxSkew: 5 * time.Minute,

		CacheTTL:     5 * time.Second,
		CacheMaxCost: 10000,

		ArchiveMode: "none",
		ArchivePath: "archive.jsonl",
		S3Region:    "us-east-1",
		S3Prefix:    "parimutuel",
		S3UseSSL:    true,

		CustodyMode: "paper",

		WSMessageBufferSize: 256,

		RecoveryInterval: time.Minute,
		ShutdownTimeout:  30 * time.Second,
	}
}

// Load builds the configuration in layers: defaults, then the TOML file at path
// (skipped when path is empty), then a .env file if present, then environment
// variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg.applyEnv()

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.HTTPPort = getEnvOrDefault("HTTP_PORT", c.HTTPPort)

	c.StorageMode = getEnvOrDefault("STORAGE_MODE", c.StorageMode)
	c.SQLitePath = getEnvOrDefault("SQLITE_PATH", c.SQLitePath)
	c.PostgresHost = getEnvOrDefault("POSTGRES_HOST", c.PostgresHost)
	c.PostgresPort = getEnvOrDefault("POSTGRES_PORT", c.PostgresPort)
	c.PostgresUser = getEnvOrDefault("POSTGRES_USER", c.PostgresUser)
	c.PostgresPass = getEnvOrDefault("POSTGRES_PASSWORD", c.PostgresPass)
	c.PostgresDB = getEnvOrDefault("POSTGRES_DB", c.PostgresDB)
	c.PostgresSSL = getEnvOrDefault("POSTGRES_SSLMODE", c.PostgresSSL)

	c.LockMode = getEnvOrDefault("LOCK_MODE", c.LockMode)
	c.RedisAddr = getEnvOrDefault("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getIntOrDefault("REDIS_DB", c.RedisDB)
	c.LockTTL = getDurationOrDefault("LOCK_TTL", c.LockTTL)
	c.LockWaitTimeout = getDurationOrDefault("LOCK_WAIT_TIMEOUT", c.LockWaitTimeout)

	c.AuthMode = getEnvOrDefault("AUTH_MODE", c.AuthMode)
	c.AuthMaxSkew = getDurationOrDefault("AUTH_MAX_SKEW", c.AuthMaxSkew)

	c.CacheTTL = getDurationOrDefault("CACHE_TTL", c.CacheTTL)
	c.CacheMaxCost = int64(getIntOrDefault("CACHE_MAX_COST", int(c.CacheMaxCost)))

	c.ArchiveMode = getEnvOrDefault("ARCHIVE_MODE", c.ArchiveMode)
	c.ArchivePath = getEnvOrDefault("ARCHIVE_PATH", c.ArchivePath)
	c.S3Endpoint = getEnvOrDefault("S3_ENDPOINT", c.S3Endpoint)
	c.S3Region = getEnvOrDefault("S3_REGION", c.S3Region)
	c.S3Bucket = getEnvOrDefault("S3_BUCKET", c.S3Bucket)
	c.S3Prefix = getEnvOrDefault("S3_PREFIX", c.S3Prefix)
	c.S3AccessKey = getEnvOrDefault("S3_ACCESS_KEY", c.S3AccessKey)
	c.S3SecretKey = getEnvOrDefault("S3_SECRET_KEY", c.S3SecretKey)
	c.S3UseSSL = getBoolOrDefault("S3_USE_SSL", c.S3UseSSL)
	c.S3ForcePathStyle = getBoolOrDefault("S3_FORCE_PATH_STYLE", c.S3ForcePathStyle)

	c.CustodyMode = getEnvOrDefault("CUSTODY_MODE", c.CustodyMode)

	c.WSMessageBufferSize = getIntOrDefault("WS_MESSAGE_BUFFER_SIZE", c.WSMessageBufferSize)

	c.RecoveryInterval = getDurationOrDefault("RECOVERY_INTERVAL", c.RecoveryInterval)
	c.ShutdownTimeout = getDurationOrDefault("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return errors.New("HTTP_PORT cannot be empty")
	}

	switch c.StorageMode {
	case "memory", "postgres":
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH cannot be empty when STORAGE_MODE is sqlite")
		}
	default:
		return fmt.Errorf("STORAGE_MODE must be 'memory', 'sqlite' or 'postgres', got %q", c.StorageMode)
	}

	switch c.LockMode {
	case "local":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR cannot be empty when LOCK_MODE is redis")
		}
		if c.LockTTL <= 0 {
			return fmt.Errorf("LOCK_TTL must be positive, got %s", c.LockTTL)
		}
	default:
		return fmt.Errorf("LOCK_MODE must be 'local' or 'redis', got %q", c.LockMode)
	}

	if c.AuthMode != "signature" && c.AuthMode != "header" {
		return fmt.Errorf("AUTH_MODE must be 'signature' or 'header', got %q", c.AuthMode)
	}
	if c.AuthMode == "signature" && c.AuthMaxSkew <= 0 {
		return fmt.Errorf("AUTH_MAX_SKEW must be positive, got %s", c.AuthMaxSkew)
	}

	if c.CacheTTL < 0 {
		return fmt.Errorf("CACHE_TTL cannot be negative, got %s", c.CacheTTL)
	}
	if c.CacheTTL > 0 && c.CacheMaxCost <= 0 {
		return fmt.Errorf("CACHE_MAX_COST must be positive when caching, got %d", c.CacheMaxCost)
	}

	switch c.ArchiveMode {
	case "none":
	case "file":
		if c.ArchivePath == "" {
			return errors.New("ARCHIVE_PATH cannot be empty when ARCHIVE_MODE is file")
		}
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET cannot be empty when ARCHIVE_MODE is s3")
		}
	default:
		return fmt.Errorf("ARCHIVE_MODE must be 'none', 'file' or 's3', got %q", c.ArchiveMode)
	}

	if c.CustodyMode != "paper" {
		return fmt.Errorf("CUSTODY_MODE must be 'paper', got %q", c.CustodyMode)
	}

	if c.WSMessageBufferSize <= 0 {
		return fmt.Errorf("WS_MESSAGE_BUFFER_SIZE must be positive, got %d", c.WSMessageBufferSize)
	}

	if c.RecoveryInterval < 0 {
		return fmt.Errorf("RECOVERY_INTERVAL cannot be negative, got %s", c.RecoveryInterval)
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
