package httpapi

import (
	"errors"
	"net/http"

	"paywall_gateway/internal/pricing"
	"paywall_gateway/internal/storage"
	"paywall_gateway/internal/utils"
)

type providerPricing struct {
	pricing.Provider
	CostPerWord    float64 `json:"cost_per_word"`
	WordsPerDollar float64 `json:"words_per_dollar"`
	Display        string  `json:"display"`
}

type usageResponse struct {
	UserID        string `json:"user_id"`
	CreditBalance *int64 `json:"credit_balance"`
	SpentToday    int64  `json:"spent_today"`
}

func (d *Dependencies) providerPricing(p pricing.Provider) providerPricing {
	return providerPricing{
		Provider:       p,
		CostPerWord:    d.Pricing.CostPerWord(p.ID),
		WordsPerDollar: d.Pricing.WordsPerDollar(p.ID),
		Display:        d.Pricing.FormatPricingDisplay(p.ID),
	}
}

// handlePricing serves the pricing display table. ?provider=<id> returns a
// single provider.
func (d *Dependencies) handlePricing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if d.Pricing == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "pricing not configured")
		return
	}

	if id := r.URL.Query().Get("provider"); id != "" {
		p, ok := d.Pricing.Provider(id)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "unknown provider: "+id)
			return
		}
		_ = utils.RespondWithJSON(w, http.StatusOK, d.providerPricing(p))
		return
	}

	providers := d.Pricing.Providers()
	out := make([]providerPricing, 0, len(providers))
	for _, p := range providers {
		out = append(out, d.providerPricing(p))
	}
	_ = utils.RespondWithJSON(w, http.StatusOK, map[string]any{"providers": out})
}

// handleUsage reports a user's balance and the credits spent today.
func (d *Dependencies) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing 'user_id' parameter")
		return
	}
	if d.Users == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "user store not configured")
		return
	}

	ctx := r.Context()
	user, err := d.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			writeJSONError(w, http.StatusNotFound, "user not found")
		} else {
			d.Logger.Error("Failed to load user", "userId", userID, "error", err)
			writeJSONError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	resp := usageResponse{UserID: user.ID, CreditBalance: user.CreditBalance}
	if d.Spend != nil {
		spent, err := d.Spend.DailySpend(ctx, userID)
		if err != nil {
			// Spend counters are advisory; report the balance anyway.
			d.Logger.Warn("Failed to read daily spend", "userId", userID, "error", err)
		}
		resp.SpentToday = spent
	}

	_ = utils.RespondWithJSON(w, http.StatusOK, resp)
}
