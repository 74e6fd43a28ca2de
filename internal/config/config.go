package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds configuration for the paywall gateway.
type Config struct {
	HTTPPort string
	LogLevel string

	Database DatabaseConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Paywall  PaywallConfig

	AuditFile    AuditFileConfig
	AuditArchive AuditArchiveConfig

	// AdminEnabled mounts the queue inspection endpoints.
	AdminEnabled bool
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	QueryTimeout    time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	UserCacheSize int
	UserCacheTTL  time.Duration
}

// RedisConfig holds Redis connection settings. An empty Address disables
// Redis: queues stay in memory and daily spend is not tracked.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// QueueConfig holds settings shared by the audit and charge workers.
type QueueConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// PaywallConfig holds paywall behaviour settings
type PaywallConfig struct {
	PricingTablePath string // YAML pricing table; empty uses the built-in catalogue
	DefaultProvider  string // provider used for display cost when a request names none
	DefaultEndpoint  string // endpoint label when a request names none
	// Endpoints are the endpoint values reported as metric labels; the
	// rest are counted as "other".
	Endpoints        []string
	MetricsNamespace string
}

// AuditFileConfig configures the rotating JSON Lines audit file.
type AuditFileConfig struct {
	Enabled          bool
	FilePathTemplate string
	MaxSize          int64
	MaxFiles         int
	BufferSize       int
	FlushInterval    time.Duration
}

// AuditArchiveConfig configures the S3 audit archive
type AuditArchiveConfig struct {
	Enabled  bool   // Whether to archive audit batches to S3
	S3Bucket string // S3 bucket name
	S3Region string // AWS region
	S3Prefix string // Prefix for S3 keys (e.g., "audit/")
	PodName  string // Pod identifier for multi-pod deployments
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvInt64(key string, defaultValue int64) int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	intVal, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultValue
	}
	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

// getEnvList splits a comma-separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvBool(key string, defaultValue bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; variables already set in
// the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort: getEnvString("HTTP_PORT", "8080"),
		LogLevel: getEnvString("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
			QueryTimeout:    getEnvDuration("DB_QUERY_TIMEOUT", 5*time.Second),
		},
		Cache: CacheConfig{
			UserCacheSize: getEnvInt("CACHE_USER_SIZE", 10000),
			UserCacheTTL:  getEnvDuration("CACHE_USER_TTL", 30*time.Second),
		},
		Redis: RedisConfig{
			Address:  getEnvString("REDIS_ADDRESS", ""),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			BatchSize:    getEnvInt("QUEUE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("QUEUE_RETRY_BACKOFF", 1*time.Second),
		},
		Paywall: PaywallConfig{
			PricingTablePath: getEnvString("PRICING_TABLE_PATH", ""),
			DefaultProvider:  getEnvString("PAYWALL_DEFAULT_PROVIDER", "anthropic"),
			DefaultEndpoint:  getEnvString("PAYWALL_DEFAULT_ENDPOINT", "process-text"),
			MetricsNamespace: getEnvString("METRICS_NAMESPACE", "gateway"),
		},
		AuditFile: AuditFileConfig{
			Enabled:          getEnvBool("AUDIT_FILE_ENABLED", false),
			FilePathTemplate: getEnvString("AUDIT_FILE_PATH_TEMPLATE", "/var/log/paywall/audit-%s.jsonl"),
			MaxSize:          getEnvInt64("AUDIT_FILE_MAX_SIZE", 10_485_760),              // default 10 MB
			MaxFiles:         getEnvInt("AUDIT_FILE_MAX_FILES", 5),                        // default 5
			BufferSize:       getEnvInt("AUDIT_FILE_BUFFER_SIZE", 1000),                   // default 1000
			FlushInterval:    getEnvDuration("AUDIT_FILE_FLUSH_INTERVAL", 60*time.Second), // default 60 seconds
		},
		AuditArchive: AuditArchiveConfig{
			Enabled:  getEnvBool("AUDIT_ARCHIVE_ENABLED", false),
			S3Bucket: getEnvString("AUDIT_ARCHIVE_S3_BUCKET", ""),
			S3Region: getEnvString("AUDIT_ARCHIVE_S3_REGION", "us-east-1"),
			S3Prefix: getEnvString("AUDIT_ARCHIVE_S3_PREFIX", "audit/"),
			PodName:  getEnvString("POD_NAME", "gateway-0"),
		},
		AdminEnabled: getEnvBool("ADMIN_ENDPOINTS_ENABLED", false),
	}

	cfg.Paywall.Endpoints = getEnvList("PAYWALL_ENDPOINTS", []string{cfg.Paywall.DefaultEndpoint})

	if cfg.AuditArchive.Enabled && cfg.AuditArchive.S3Bucket == "" {
		return nil, fmt.Errorf("AUDIT_ARCHIVE_S3_BUCKET is required when the audit archive is enabled")
	}

	return cfg, nil
}
