package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessLevel is the level of access a request was given.
type AccessLevel string

const (
	AccessLevelFull    AccessLevel = "full"
	AccessLevelPreview AccessLevel = "preview"
)

// ContentRecord is the persisted form of a generated answer. For denied
// requests Content holds only the preview that was shown, never the full text.
type ContentRecord struct {
	ID             uuid.UUID   `db:"id" json:"id"`
	UserID         *string     `db:"user_id" json:"user_id,omitempty"` // NULL for anonymous requests
	Endpoint       string      `db:"endpoint" json:"endpoint"`
	Prompt         string      `db:"prompt" json:"prompt,omitempty"`
	Content        string      `db:"content" json:"content"`
	AccessLevel    AccessLevel `db:"access_level" json:"access_level"`
	PreviewPercent int         `db:"preview_percent" json:"preview_percent"`
	CreditsCharged int64       `db:"credits_charged" json:"credits_charged"`
	Metadata       StringMap   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt      time.Time   `db:"created_at" json:"created_at"`
}
