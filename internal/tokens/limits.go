package tokens

// Free-tier limits, in tokens.
const (
	FreeInputLimit  = 500
	FreeOutputLimit = 300
	FreeDailyLimit  = 1000
)

// CreditTiers maps a purchase amount in dollars to the tokens it buys.
var CreditTiers = map[int]int64{
	1:    2_000,
	10:   30_000,
	100:  600_000,
	1000: 10_000_000,
}

// TokensForPurchase returns the tokens granted for a purchase of the given
// dollar amount, or 0 if no tier matches.
func TokensForPurchase(dollars int) int64 {
	return CreditTiers[dollars]
}

// WithinFreeInput reports whether text fits the free-tier input limit.
func WithinFreeInput(text string) bool {
	return CountTokens(text) <= FreeInputLimit
}
