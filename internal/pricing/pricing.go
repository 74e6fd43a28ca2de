// Package pricing holds the static per-provider price table and the credit
// cost helpers built on it. One thousand credits equal one dollar.
package pricing

import (
	"fmt"
	"math"
	"sort"

	"github.com/dustin/go-humanize"
)

// CreditsPerDollar is the fixed credit conversion rate.
const CreditsPerDollar = 1000

// ReferenceTierPrice is the tier used for per-word rates. It is the largest
// tier and therefore the most granular.
const ReferenceTierPrice = 100

// StandardTierPrices lists the dollar tiers every provider must offer.
var StandardTierPrices = []int{5, 10, 25, 50, 100}

// Tier is one purchasable bundle of words.
type Tier struct {
	PriceUSD int   `yaml:"price" json:"price"`
	Words    int64 `yaml:"words" json:"words"`
}

// Provider describes a content provider and its price tiers.
type Provider struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Pricing     []Tier   `yaml:"pricing" json:"pricing"`
	Merits      []string `yaml:"merits" json:"merits"`
	Demerits    []string `yaml:"demerits" json:"demerits"`
}

// Table is an immutable provider price table. Build it once at startup and
// share the pointer; nothing mutates it afterwards.
type Table struct {
	providers map[string]Provider
}

// NewTable builds a table from the given providers. Later entries with a
// duplicate ID replace earlier ones.
func NewTable(providers []Provider) *Table {
	t := &Table{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		t.providers[p.ID] = clone(p)
	}
	return t
}

// Provider returns a copy of the provider with the given ID.
func (t *Table) Provider(id string) (Provider, bool) {
	p, ok := t.providers[id]
	if !ok {
		return Provider{}, false
	}
	return clone(p), true
}

// Providers returns copies of all providers sorted by ID.
func (t *Table) Providers() []Provider {
	out := make([]Provider, 0, len(t.providers))
	for _, p := range t.providers {
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// referenceTier finds the $100 tier for a provider.
func (t *Table) referenceTier(id string) (Tier, bool) {
	p, ok := t.providers[id]
	if !ok {
		return Tier{}, false
	}
	for _, tier := range p.Pricing {
		if tier.PriceUSD == ReferenceTierPrice {
			return tier, true
		}
	}
	return Tier{}, false
}

// CostPerWord returns the dollar cost of one word. Unknown providers and
// providers without a reference tier cost 0; this only feeds display
// estimates, never the access gate.
func (t *Table) CostPerWord(id string) float64 {
	tier, ok := t.referenceTier(id)
	if !ok || tier.Words <= 0 {
		return 0
	}
	return float64(tier.PriceUSD) / float64(tier.Words)
}

// CalculateCreditCost converts a word count into credits, rounding up.
func (t *Table) CalculateCreditCost(id string, wordCount int) int64 {
	costPerWord := t.CostPerWord(id)
	return int64(math.Ceil(costPerWord * float64(wordCount) * CreditsPerDollar))
}

// WordsPerDollar returns the inverse rate from the reference tier.
func (t *Table) WordsPerDollar(id string) float64 {
	tier, ok := t.referenceTier(id)
	if !ok {
		return 0
	}
	return float64(tier.Words) / float64(tier.PriceUSD)
}

// FormatPricingDisplay renders the rate shown next to a provider,
// e.g. "1,154,250 words per $1".
func (t *Table) FormatPricingDisplay(id string) string {
	return fmt.Sprintf("%s words per $1", humanize.Commaf(t.WordsPerDollar(id)))
}

func clone(p Provider) Provider {
	p.Pricing = append([]Tier(nil), p.Pricing...)
	p.Merits = append([]string(nil), p.Merits...)
	p.Demerits = append([]string(nil), p.Demerits...)
	return p
}
