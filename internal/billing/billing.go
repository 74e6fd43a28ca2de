// Package billing charges users for content they received in full.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"paywall_gateway/internal/storage"
	"paywall_gateway/internal/utils"
)

// Service debits credits from a user.
type Service interface {
	Charge(ctx context.Context, userID string, credits int64) error
}

// NoopService accepts every charge and debits nothing.
type NoopService struct{}

func NewNoopService() *NoopService {
	return &NoopService{}
}

func (s *NoopService) Charge(ctx context.Context, userID string, credits int64) error {
	return nil
}

// CreditDebiter is the ledger write LedgerService needs.
// storage.UserRepository satisfies it.
type CreditDebiter interface {
	DebitCredits(ctx context.Context, userID string, credits int64) (int64, error)
}

// spendScript adds to a user's daily spend counter and refreshes its TTL.
var spendScript = redis.NewScript(`
	local key = KEYS[1]
	local credits = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local total = redis.call('INCRBY', key, credits)
	redis.call('EXPIRE', key, ttl)
	return total
`)

// spendTTL keeps daily counters for about a month.
const spendTTL = 35 * 24 * time.Hour

// LedgerService debits the Postgres balance and keeps a per-day spend
// counter in Redis. The counter is advisory: a Redis failure after a
// successful debit is logged, not returned, so a retry never debits twice.
type LedgerService struct {
	ledger CreditDebiter
	redis  redis.UniversalClient
	now    func() time.Time
	logger *utils.Logger
}

// NewLedgerService builds a ledger. redis may be nil to disable spend counters.
func NewLedgerService(ledger CreditDebiter, rdb redis.UniversalClient) *LedgerService {
	return &LedgerService{
		ledger: ledger,
		redis:  rdb,
		now:    time.Now,
		logger: utils.NewLogger("billing"),
	}
}

func (s *LedgerService) Charge(ctx context.Context, userID string, credits int64) error {
	if credits <= 0 {
		return nil
	}

	remaining, err := s.ledger.DebitCredits(ctx, userID, credits)
	if err != nil {
		return fmt.Errorf("failed to debit %d credits from %s: %w", credits, userID, err)
	}

	if s.redis != nil {
		key := s.dailyKey(userID, s.now())
		if _, err := spendScript.Run(ctx, s.redis, []string{key}, credits, int(spendTTL.Seconds())).Result(); err != nil {
			s.logger.Warn("Failed to update daily spend", "user", userID, "credits", credits, "error", err)
		}
	}

	s.logger.Debug("Charged credits", "user", userID, "credits", credits, "remaining", remaining)
	return nil
}

// DailySpend returns the credits a user spent today (UTC).
func (s *LedgerService) DailySpend(ctx context.Context, userID string) (int64, error) {
	return s.SpendOn(ctx, userID, s.now())
}

// SpendOn returns the credits a user spent on day (UTC).
func (s *LedgerService) SpendOn(ctx context.Context, userID string, day time.Time) (int64, error) {
	if s.redis == nil {
		return 0, nil
	}

	val, err := s.redis.Get(ctx, s.dailyKey(userID, day)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get daily spend: %w", err)
	}
	return val, nil
}

func (s *LedgerService) dailyKey(userID string, t time.Time) string {
	return fmt.Sprintf("paywall:spend:%s:%s", userID, t.UTC().Format("2006-01-02"))
}

// IsPermanent reports whether retrying a failed charge cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, storage.ErrInsufficientCredits) ||
		errors.Is(err, storage.ErrUserNotFound) ||
		errors.Is(err, storage.ErrBalanceUnavailable)
}
