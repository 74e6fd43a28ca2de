// Package paywall decides, per request, whether generated content is
// delivered in full or as a truncated preview, and fails closed: a missing
// identity or an unknown balance always yields a preview.
package paywall

import (
	"fmt"
	"strconv"
	"strings"

	"paywall_gateway/internal/models"
)

// PreviewPercent is the share of content a denied request receives.
const PreviewPercent = 30

// FullPercent is reported for granted requests.
const FullPercent = 100

// UpsellNotice is appended to every preview.
const UpsellNotice = "\n\n🔒 **Complete solution available with credits.** Upgrade to see the full answer, detailed explanations, and step-by-step solutions."

// Response metadata keys, sent as HTTP headers.
const (
	HeaderPreview        = "X-Preview"
	HeaderPreviewPercent = "X-Preview-Percent"
	HeaderAccessLevel    = "X-Access-Level"
	HeaderLockReason     = "X-Lock-Reason"
)

// Denial reasons.
const (
	ReasonNoUser             = "No user authentication"
	ReasonBalanceUnavailable = "Token balance unavailable"
)

// InsufficientCreditsReason formats the reason for a balance below cost.
func InsufficientCreditsReason(need, have int64) string {
	return fmt.Sprintf("Insufficient credits (need %d, have %d)", need, have)
}

// Decision kinds, used as low-cardinality metric labels.
const (
	KindGranted             = "granted"
	KindUnauthenticated     = "unauthenticated"
	KindBalanceUnavailable  = "balance_unavailable"
	KindInsufficientCredits = "insufficient_credits"
)

// Request is everything the engine needs to decide one request.
type Request struct {
	// UserID is the caller's identity; empty when anonymous.
	UserID string
	// User is the resolved record; nil when none was found.
	User *models.User

	FullContent     string
	EstimatedTokens int
	Endpoint        string
}

// Decision is the outcome for one request. Granted and IsPreview are always
// opposite.
type Decision struct {
	Granted   bool
	IsPreview bool

	// DeliveredContent is what the user receives: the full content when
	// granted, otherwise PreviewContent followed by UpsellNotice.
	DeliveredContent string
	// PreviewContent is the trimmed preview without the notice. Empty when
	// granted.
	PreviewContent string

	PreviewPercent int
	DenialReason   string
	// LockMessage is UpsellNotice on previews and empty otherwise.
	LockMessage string

	// Kind is one of the Kind* constants.
	Kind string

	// Metadata holds the response headers.
	Metadata map[string]string

	EstimatedCost int64
}

// AccessLevel reports full or preview.
func (d *Decision) AccessLevel() models.AccessLevel {
	if d.Granted {
		return models.AccessLevelFull
	}
	return models.AccessLevelPreview
}

// EstimatedCost converts estimated tokens into credits: ceil(tokens / 1000).
// Negative estimates cost nothing.
func EstimatedCost(tokens int) int64 {
	if tokens <= 0 {
		return 0
	}
	return (int64(tokens) + 999) / 1000
}

// StorageContent is the text to persist for a decision. For previews it is
// the preview without the upsell notice, so storage never holds more than
// the user saw.
func StorageContent(d *Decision) string {
	if d == nil {
		return ""
	}
	if d.IsPreview {
		return strings.TrimSpace(strings.TrimSuffix(d.DeliveredContent, UpsellNotice))
	}
	return d.DeliveredContent
}

// UserContent is the text to send to the user.
func UserContent(d *Decision) string {
	if d == nil {
		return ""
	}
	return d.DeliveredContent
}

func metadata(d *Decision) map[string]string {
	m := map[string]string{
		HeaderPreview:        strconv.FormatBool(d.IsPreview),
		HeaderPreviewPercent: strconv.Itoa(d.PreviewPercent),
		HeaderAccessLevel:    string(d.AccessLevel()),
	}
	if d.IsPreview {
		m[HeaderLockReason] = d.DenialReason
	}
	return m
}
