package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"paywall_gateway/internal/models"
)

// UserRepository reads and updates user credit balances
type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns the user with id, serving from the cache when possible.
// Callers get their own copy; mutating it does not touch the cache.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, ErrUserNotFound
	}

	if cached, ok := r.db.userCache.Get(id); ok {
		return copyUser(cached.(*models.User)), nil
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var user models.User
	query := `
		SELECT id, email, credit_balance, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	r.db.userCache.Set(id, copyUser(&user))
	return &user, nil
}

// Create inserts a user. A nil CreditBalance is stored as NULL.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO users (id, email, credit_balance, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	if err := r.db.conn.QueryRowxContext(ctx, query, user.ID, user.Email, user.CreditBalance).
		Scan(&user.CreatedAt, &user.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	r.db.userCache.Delete(user.ID)
	return nil
}

// SetCredits overwrites the balance. Passing nil clears it to NULL.
func (r *UserRepository) SetCredits(ctx context.Context, id string, credits *int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := `UPDATE users SET credit_balance = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.conn.ExecContext(ctx, query, id, credits)
	if err != nil {
		return fmt.Errorf("failed to set credits: %w", err)
	}
	r.db.userCache.Delete(id)
	return requireOneRow(result, ErrUserNotFound)
}

// AddCredits adds delta to the balance, treating NULL as zero, and returns
// the new balance.
func (r *UserRepository) AddCredits(ctx context.Context, id string, delta int64) (int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE users
		SET credit_balance = COALESCE(credit_balance, 0) + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING credit_balance
	`

	var balance int64
	err := r.db.conn.GetContext(ctx, &balance, query, id, delta)
	r.db.userCache.Delete(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("failed to add credits: %w", err)
	}
	return balance, nil
}

// DebitCredits subtracts credits atomically and returns the remaining
// balance. The balance never goes negative.
func (r *UserRepository) DebitCredits(ctx context.Context, id string, credits int64) (int64, error) {
	if credits < 0 {
		return 0, fmt.Errorf("debit must not be negative: %d", credits)
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE users
		SET credit_balance = credit_balance - $2, updated_at = NOW()
		WHERE id = $1 AND credit_balance IS NOT NULL AND credit_balance >= $2
		RETURNING credit_balance
	`

	var balance int64
	err := r.db.conn.GetContext(ctx, &balance, query, id, credits)
	r.db.userCache.Delete(id)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("failed to debit credits: %w", err)
	}

	// No row updated: tell missing user, NULL balance and short balance apart.
	var current sql.NullInt64
	err = r.db.conn.GetContext(ctx, &current, `SELECT credit_balance FROM users WHERE id = $1`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, ErrUserNotFound
	case err != nil:
		return 0, fmt.Errorf("failed to read balance: %w", err)
	case !current.Valid:
		return 0, ErrBalanceUnavailable
	default:
		return current.Int64, ErrInsufficientCredits
	}
}

func copyUser(u *models.User) *models.User {
	c := *u
	if u.CreditBalance != nil {
		balance := *u.CreditBalance
		c.CreditBalance = &balance
	}
	return &c
}

func requireOneRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
