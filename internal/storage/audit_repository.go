package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"paywall_gateway/internal/models"
)

// AuditRepository persists paywall audit records
type AuditRepository struct {
	db *DB
}

func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// WriteAudit inserts a batch in one transaction; either every record lands
// or none does.
func (r *AuditRepository) WriteAudit(ctx context.Context, records []*models.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO paywall_audit (
			id, created_at, authenticated, endpoint, is_preview,
			preview_percent, original_bytes, sent_bytes, reason
		) VALUES (
			:id, :created_at, :authenticated, :endpoint, :is_preview,
			:preview_percent, :original_bytes, :sent_bytes, :reason
		)
		ON CONFLICT (id) DO NOTHING
	`

	for _, rec := range records {
		if rec == nil {
			continue
		}
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if _, err := tx.NamedExecContext(ctx, query, rec); err != nil {
			return fmt.Errorf("failed to insert audit record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CountPreviews returns how many preview decisions were recorded for
// endpoint. An empty endpoint counts all endpoints.
func (r *AuditRepository) CountPreviews(ctx context.Context, endpoint string) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT COUNT(*) FROM paywall_audit
		WHERE is_preview AND ($1::text = '' OR endpoint = $1)
	`

	var n int
	if err := r.db.conn.GetContext(ctx, &n, query, endpoint); err != nil {
		return 0, fmt.Errorf("failed to count previews: %w", err)
	}
	return n, nil
}
