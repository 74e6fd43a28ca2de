package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the Postgres pool and the user cache.
type DB struct {
	conn *sqlx.DB

	// userCache holds *models.User by id. Balances are cached only briefly;
	// every write through UserRepository invalidates the entry.
	userCache *LRUCache

	queryTimeout time.Duration
}

// DBConfig holds database configuration
type DBConfig struct {
	// DSN is a lib/pq connection string or postgres:// URL.
	DSN string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// QueryTimeout bounds each repository call when the caller's context
	// has no earlier deadline.
	QueryTimeout time.Duration

	// Cache settings
	UserCacheSize int
	UserCacheTTL  time.Duration
}

// DefaultDBConfig returns default database configuration for dsn
func DefaultDBConfig(dsn string) DBConfig {
	return DBConfig{
		DSN: dsn,

		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		QueryTimeout: 5 * time.Second,

		UserCacheSize: 10000,
		UserCacheTTL:  30 * time.Second,
	}
}

// NewDB connects to Postgres and configures the pool
func NewDB(cfg DBConfig) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	conn, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return newDB(conn, cfg), nil
}

func newDB(conn *sqlx.DB, cfg DBConfig) *DB {
	if cfg.UserCacheSize <= 0 {
		cfg.UserCacheSize = 1
	}
	return &DB{
		conn:         conn,
		userCache:    NewLRUCache(cfg.UserCacheSize, cfg.UserCacheTTL),
		queryTimeout: cfg.QueryTimeout,
	}
}

// Close closes the database connection and clears caches
func (db *DB) Close() error {
	db.userCache.Clear()
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health pings the database and runs a trivial query
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := db.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}
	return nil
}

// DBStats reports pool and cache statistics
type DBStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration

	UserCacheStats CacheStats
}

// GetStats returns current database and cache statistics
func (db *DB) GetStats() DBStats {
	stats := db.conn.Stats()

	return DBStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,

		UserCacheStats: db.userCache.GetStats(),
	}
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Conn returns the underlying sqlx connection
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// UserCache returns the user cache
func (db *DB) UserCache() *LRUCache {
	return db.userCache
}

// CleanupExpiredCacheEntries removes expired cache entries. Call periodically.
func (db *DB) CleanupExpiredCacheEntries() int {
	return db.userCache.CleanupExpired()
}

// withTimeout applies the configured query timeout.
func (db *DB) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if db.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, db.queryTimeout)
}

// Repository factory methods

func (db *DB) NewUserRepository() *UserRepository {
	return NewUserRepository(db)
}

func (db *DB) NewContentRepository() *ContentRepository {
	return NewContentRepository(db)
}

func (db *DB) NewAuditRepository() *AuditRepository {
	return NewAuditRepository(db)
}
