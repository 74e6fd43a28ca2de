package paywall

import (
	"context"
	"errors"
	"fmt"

	"paywall_gateway/internal/billing"
	"paywall_gateway/internal/models"
	"paywall_gateway/internal/storage"
	"paywall_gateway/internal/utils"
)

// UserStore resolves user identifiers. Missing users yield
// storage.ErrUserNotFound.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// ContentStore persists what was generated for a request.
type ContentStore interface {
	Save(ctx context.Context, rec *models.ContentRecord) error
}

// Charger queues debits for content delivered in full.
type Charger interface {
	Enqueue(ctx context.Context, req *billing.ChargeRequest) error
}

// ProcessInput is one request arriving at the gate.
type ProcessInput struct {
	UserID          string
	Prompt          string
	FullContent     string
	EstimatedTokens int
	Endpoint        string
	// Metadata is stored with the content record (provider, model, ...).
	Metadata map[string]string
}

// Gate runs a request through the paywall: resolve the user, decide,
// persist what was shown and queue the charge.
type Gate struct {
	engine  *Engine
	users   UserStore
	content ContentStore
	charger Charger
	logger  *utils.Logger
}

// NewGate builds a gate. content and charger may be nil to skip
// persistence or charging.
func NewGate(engine *Engine, users UserStore, content ContentStore, charger Charger) *Gate {
	return &Gate{
		engine:  engine,
		users:   users,
		content: content,
		charger: charger,
		logger:  utils.NewLogger("paywall-gate"),
	}
}

// Process always returns a decision. The error reports side effects that
// failed after the decision was made; the decision stands regardless.
func (g *Gate) Process(ctx context.Context, in ProcessInput) (*Decision, error) {
	d := g.engine.Decide(Request{
		UserID:          in.UserID,
		User:            g.resolveUser(ctx, in.UserID),
		FullContent:     in.FullContent,
		EstimatedTokens: in.EstimatedTokens,
		Endpoint:        in.Endpoint,
	})

	var errs []error

	if g.content != nil {
		if err := g.content.Save(ctx, contentRecord(in, d)); err != nil {
			g.logger.Error("Failed to save content record", "endpoint", in.Endpoint, "error", err)
			errs = append(errs, fmt.Errorf("save content: %w", err))
		}
	}

	if d.Granted && d.EstimatedCost > 0 && g.charger != nil {
		req := billing.NewChargeRequest(in.UserID, d.EstimatedCost, in.Endpoint)
		if err := g.charger.Enqueue(ctx, req); err != nil {
			g.logger.Error("Failed to queue charge", "user", in.UserID, "credits", d.EstimatedCost, "error", err)
			errs = append(errs, fmt.Errorf("queue charge: %w", err))
		}
	}

	return d, errors.Join(errs...)
}

// resolveUser looks up the caller. Any failure resolves to no user, which
// the engine turns into a preview.
func (g *Gate) resolveUser(ctx context.Context, userID string) *models.User {
	if userID == "" || g.users == nil {
		return nil
	}

	user, err := g.users.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			g.logger.Error("User lookup failed, treating as anonymous", "userId", userID, "error", err)
		}
		return nil
	}
	return user
}

func contentRecord(in ProcessInput, d *Decision) *models.ContentRecord {
	rec := &models.ContentRecord{
		Endpoint:       in.Endpoint,
		Prompt:         in.Prompt,
		Content:        StorageContent(d),
		AccessLevel:    d.AccessLevel(),
		PreviewPercent: d.PreviewPercent,
		Metadata:       models.StringMap{},
	}
	if in.UserID != "" {
		userID := in.UserID
		rec.UserID = &userID
	}
	if d.Granted {
		rec.CreditsCharged = d.EstimatedCost
	}
	for k, v := range in.Metadata {
		rec.Metadata[k] = v
	}
	if d.IsPreview {
		rec.Metadata["lock_reason"] = d.DenialReason
	}
	return rec
}
