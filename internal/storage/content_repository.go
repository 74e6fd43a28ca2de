package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"paywall_gateway/internal/models"
)

// ContentRepository stores generated answers. Denied requests are saved
// with their preview only.
type ContentRepository struct {
	db *DB
}

func NewContentRepository(db *DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Save inserts rec, assigning an ID and CreatedAt when unset.
func (r *ContentRepository) Save(ctx context.Context, rec *models.ContentRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Metadata == nil {
		rec.Metadata = models.StringMap{}
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO content_records (
			id, user_id, endpoint, prompt, content, access_level,
			preview_percent, credits_charged, metadata, created_at
		) VALUES (
			:id, :user_id, :endpoint, :prompt, :content, :access_level,
			:preview_percent, :credits_charged, :metadata, :created_at
		)
	`

	if _, err := r.db.conn.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("failed to save content record: %w", err)
	}
	return nil
}

func (r *ContentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ContentRecord, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var rec models.ContentRecord
	query := `
		SELECT id, user_id, endpoint, prompt, content, access_level,
		       preview_percent, credits_charged, metadata, created_at
		FROM content_records
		WHERE id = $1
	`

	err := r.db.conn.GetContext(ctx, &rec, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to get content record: %w", err)
	}
	return &rec, nil
}

// ListByUser returns a user's most recent records, newest first.
func (r *ContentRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.ContentRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, user_id, endpoint, prompt, content, access_level,
		       preview_percent, credits_charged, metadata, created_at
		FROM content_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var records []*models.ContentRecord
	if err := r.db.conn.SelectContext(ctx, &records, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list content records: %w", err)
	}
	return records, nil
}
