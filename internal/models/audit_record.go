package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord captures one access decision. It is emitted for every
// decision, granted or denied.
type AuditRecord struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Timestamp      time.Time `db:"created_at" json:"timestamp"`
	Authenticated  bool      `db:"authenticated" json:"authenticated"`
	Endpoint       string    `db:"endpoint" json:"endpoint"`
	IsPreview      bool      `db:"is_preview" json:"is_preview"`
	PreviewPercent int       `db:"preview_percent" json:"preview_percent"`
	OriginalBytes  int       `db:"original_bytes" json:"original_bytes"`
	SentBytes      int       `db:"sent_bytes" json:"sent_bytes"`
	Reason         string    `db:"reason" json:"reason,omitempty"`
}
