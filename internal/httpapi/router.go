package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"paywall_gateway/internal/billing"
	"paywall_gateway/internal/config"
	"paywall_gateway/internal/logging"
	"paywall_gateway/internal/metrics"
	"paywall_gateway/internal/paywall"
	"paywall_gateway/internal/pricing"
	"paywall_gateway/internal/queue"
	"paywall_gateway/internal/storage"
	"paywall_gateway/internal/utils"
)

// SpendReporter reports a user's credits spent today.
type SpendReporter interface {
	DailySpend(ctx context.Context, userID string) (int64, error)
}

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	DB    *storage.DB
	Redis redis.UniversalClient

	Gate    *paywall.Gate
	Users   paywall.UserStore
	Spend   SpendReporter
	Pricing *pricing.Table
	Metrics metrics.Metrics

	// AuditSink receives every decision's audit record.
	AuditSink logging.Sink

	// Queue workers for async processing
	AuditWorker  *storage.AuditQueueWorker
	ChargeWorker *billing.ChargeQueueWorker

	DefaultProvider string
	DefaultEndpoint string

	Logger *utils.Logger

	// closers are released last, after the workers have drained.
	closers []io.Closer
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	logger := utils.NewLogger("httpapi")

	// Initialize database
	dbConfig := storage.DefaultDBConfig(cfg.Database.URL)
	dbConfig.MaxOpenConns = cfg.Database.MaxOpenConns
	dbConfig.MaxIdleConns = cfg.Database.MaxIdleConns
	dbConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	dbConfig.ConnMaxIdleTime = cfg.Database.ConnMaxIdleTime
	dbConfig.QueryTimeout = cfg.Database.QueryTimeout
	dbConfig.UserCacheSize = cfg.Cache.UserCacheSize
	dbConfig.UserCacheTTL = cfg.Cache.UserCacheTTL

	db, err := storage.NewDB(dbConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps := &Dependencies{
		DB:              db,
		DefaultProvider: cfg.Paywall.DefaultProvider,
		DefaultEndpoint: cfg.Paywall.DefaultEndpoint,
		Logger:          logger,
	}
	deps.closers = append(deps.closers, db)

	fail := func(err error) (*http.ServeMux, *Dependencies, error) {
		for i := len(deps.closers) - 1; i >= 0; i-- {
			_ = deps.closers[i].Close()
		}
		return nil, nil, err
	}

	// Initialize pricing table
	table := pricing.DefaultTable()
	if cfg.Paywall.PricingTablePath != "" {
		table, err = pricing.LoadTable(cfg.Paywall.PricingTablePath)
		if err != nil {
			return fail(fmt.Errorf("failed to load pricing table: %w", err))
		}
	}
	deps.Pricing = table

	// Initialize Redis client; without it queues stay in memory
	if cfg.Redis.Address != "" {
		client, err := queue.NewRedisClient(context.Background(), cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize Redis: %w", err))
		}
		deps.Redis = client
		deps.closers = append(deps.closers, client)
	} else {
		logger.Warn("REDIS_ADDRESS not set, using in-memory queues and no daily spend tracking")
	}

	metricsImpl := metrics.NewPrometheusMetrics(cfg.Paywall.MetricsNamespace)
	deps.Metrics = metricsImpl

	// Create audit queue and writers
	auditQueueCfg := queueConfig(cfg, "audit")
	auditQueue, auditDLQ, err := deps.newQueues(auditQueueCfg)
	if err != nil {
		return fail(fmt.Errorf("failed to create audit queue: %w", err))
	}

	writers := []storage.AuditWriter{db.NewAuditRepository()}
	if cfg.AuditArchive.Enabled {
		archive, err := logging.NewS3Writer(context.Background(),
			cfg.AuditArchive.S3Bucket,
			cfg.AuditArchive.S3Region,
			cfg.AuditArchive.S3Prefix,
			cfg.AuditArchive.PodName,
		)
		if err != nil {
			return fail(fmt.Errorf("failed to initialize audit archive: %w", err))
		}
		writers = append(writers, archive)
	}
	deps.AuditWorker = storage.NewAuditQueueWorker(auditQueue, auditDLQ, auditQueueCfg, writers...)

	// Create audit sinks
	sinks := []logging.Sink{
		logging.NewLogSink(utils.NewLogger("paywall-audit")),
		logging.NewQueueSink(auditQueue, 100*time.Millisecond),
	}
	if cfg.AuditFile.Enabled {
		fileSink, err := logging.NewFileSink(logging.FileSinkConfig{
			FilePathTemplate: cfg.AuditFile.FilePathTemplate,
			MaxSize:          cfg.AuditFile.MaxSize,
			MaxFiles:         cfg.AuditFile.MaxFiles,
			BufferSize:       cfg.AuditFile.BufferSize,
			FlushInterval:    cfg.AuditFile.FlushInterval,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to initialize audit file: %w", err))
		}
		sinks = append(sinks, fileSink)
	}
	deps.AuditSink = logging.NewMultiSink(sinks...)

	// Create charge queue and billing service
	chargeQueueCfg := queueConfig(cfg, "charges")
	chargeQueue, chargeDLQ, err := deps.newQueues(chargeQueueCfg)
	if err != nil {
		return fail(fmt.Errorf("failed to create charge queue: %w", err))
	}

	users := db.NewUserRepository()
	ledger := billing.NewLedgerService(users, deps.Redis)
	deps.Users = users
	deps.Spend = ledger
	deps.ChargeWorker = billing.NewChargeQueueWorker(chargeQueue, chargeDLQ, ledger, metricsImpl, chargeQueueCfg)

	// Build the paywall
	engine := paywall.NewEngine(deps.AuditSink, metricsImpl, utils.NewLogger("paywall"))
	engine.SetMetricEndpoints(cfg.Paywall.Endpoints...)
	deps.Gate = paywall.NewGate(engine, users, db.NewContentRepository(), deps.ChargeWorker)

	// Start queue workers
	deps.AuditWorker.Start(context.Background())
	deps.ChargeWorker.Start(context.Background())

	// Create router
	mux := http.NewServeMux()
	registerRoutes(mux, deps, cfg.AdminEnabled)

	return mux, deps, nil
}

func queueConfig(cfg *config.Config, name string) *queue.Config {
	qc := queue.DefaultConfig(name)
	qc.BatchSize = cfg.Queue.BatchSize
	qc.BatchTimeout = cfg.Queue.BatchTimeout
	qc.MaxRetries = cfg.Queue.MaxRetries
	qc.RetryBackoff = cfg.Queue.RetryBackoff
	return qc
}

// newQueues returns Redis-backed queues when Redis is configured and
// in-memory ones otherwise.
func (d *Dependencies) newQueues(qc *queue.Config) (queue.Queue, queue.DeadLetterQueue, error) {
	var (
		q   queue.Queue
		dlq queue.DeadLetterQueue
		err error
	)

	if d.Redis != nil {
		q, err = queue.NewRedisQueue(d.Redis, qc)
		if err != nil {
			return nil, nil, err
		}
		dlq, err = queue.NewRedisDeadLetterQueue(d.Redis, qc)
		if err != nil {
			return nil, nil, err
		}
	} else {
		q = queue.NewMemoryQueue(qc)
		dlq = queue.NewMemoryDeadLetterQueue()
	}

	d.closers = append(d.closers, q, dlq)
	return q, dlq, nil
}

// Shutdown flushes the audit sink, drains the workers and releases
// connections. The HTTP server must already be stopped.
func (d *Dependencies) Shutdown(ctx context.Context) error {
	var errs []error

	if d.AuditSink != nil {
		if err := d.AuditSink.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("audit sink: %w", err))
		}
	}
	if d.AuditWorker != nil {
		if err := d.AuditWorker.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("audit worker: %w", err))
		}
	}
	if d.ChargeWorker != nil {
		if err := d.ChargeWorker.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("charge worker: %w", err))
		}
	}

	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil

	return errors.Join(errs...)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies, adminEnabled bool) {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = utils.NewLogger("httpapi")
	}

	// Paywalled content delivery
	mux.HandleFunc("/v1/paywall", deps.handlePaywall)

	// Pricing display and per-user usage
	mux.HandleFunc("/v1/pricing", deps.handlePricing)
	mux.HandleFunc("/v1/usage", deps.handleUsage)

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Metrics endpoint
	mux.Handle("/metrics", deps.Metrics.HTTPHandler())

	if adminEnabled {
		mux.HandleFunc("/admin/queues", deps.handleAdminQueues)
		mux.HandleFunc("/admin/queues/retry", deps.handleAdminRetry)
	}
}
