package pricing

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTable is returned when a price table file fails validation.
var ErrInvalidTable = errors.New("invalid price table")

// DefaultTable returns the built-in provider catalogue.
func DefaultTable() *Table {
	return NewTable(defaultProviders())
}

type tableFile struct {
	Providers []Provider `yaml:"providers"`
}

// LoadTable reads a YAML price table. Every provider must carry the standard
// $5/$10/$25/$50/$100 tiers with positive word counts.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read price table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes and validates a YAML price table.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse price table: %w", err)
	}

	if len(f.Providers) == 0 {
		return nil, fmt.Errorf("%w: no providers", ErrInvalidTable)
	}

	for _, p := range f.Providers {
		if err := validateProvider(p); err != nil {
			return nil, err
		}
	}

	return NewTable(f.Providers), nil
}

func validateProvider(p Provider) error {
	if p.ID == "" {
		return fmt.Errorf("%w: provider without id", ErrInvalidTable)
	}

	words := make(map[int]int64, len(p.Pricing))
	for _, tier := range p.Pricing {
		words[tier.PriceUSD] = tier.Words
	}

	for _, price := range StandardTierPrices {
		w, ok := words[price]
		if !ok {
			return fmt.Errorf("%w: provider %s missing $%d tier", ErrInvalidTable, p.ID, price)
		}
		if w <= 0 {
			return fmt.Errorf("%w: provider %s has non-positive words for $%d tier", ErrInvalidTable, p.ID, price)
		}
	}

	return nil
}

func defaultProviders() []Provider {
	return []Provider{
		{
			ID:          "anthropic",
			Name:        "ZHI 1 (Anthropic Claude)",
			Description: "Fast and cost-effective with good balance for general academic use",
			Pricing: []Tier{
				{PriceUSD: 5, Words: 4_275_000},
				{PriceUSD: 10, Words: 8_977_500},
				{PriceUSD: 25, Words: 23_512_500},
				{PriceUSD: 50, Words: 51_300_000},
				{PriceUSD: 100, Words: 115_425_000},
			},
			Merits: []string{
				"Fast, cheap, widely compatible",
				"Good balance of creativity + accuracy",
				"Reliable at short/medium rewrites and commercial text",
			},
			Demerits: []string{
				"Struggles with very dense scholarly material (drops nuance)",
				`More "AI-detected" feel in raw outputs (less human signal)`,
				"Occasionally hallucinates stylistic quirks",
			},
		},
		{
			ID:          "openai",
			Name:        "ZHI 2 (OpenAI GPT)",
			Description: "Premium quality for complex academic and philosophical work",
			Pricing: []Tier{
				{PriceUSD: 5, Words: 106_840},
				{PriceUSD: 10, Words: 224_360},
				{PriceUSD: 25, Words: 587_625},
				{PriceUSD: 50, Words: 1_282_100},
				{PriceUSD: 100, Words: 2_883_400},
			},
			Merits: []string{
				`Excellent on scholarly, philosophical, and "thinking-through" tasks`,
				"Strong at staying consistent in long rewrites",
				`More "polished" tone, good for academic-sounding prose`,
			},
			Demerits: []string{
				"By far the most expensive",
				"Sometimes cautious / verbose, especially when asked for edgy or non-academic rewrites",
				`Can "over-summarize" instead of fully transforming`,
			},
		},
		{
			ID:          "deepseek",
			Name:        "ZHI 3 (DeepSeek)",
			Description: "Budget-friendly option ideal for bulk processing and simple tasks",
			Pricing: []Tier{
				{PriceUSD: 5, Words: 702_000},
				{PriceUSD: 10, Words: 1_474_200},
				{PriceUSD: 25, Words: 3_861_000},
				{PriceUSD: 50, Words: 8_424_000},
				{PriceUSD: 100, Words: 18_954_000},
			},
			Merits: []string{
				"Cheapest by far",
				"Handles bulk text rewriting and simple transformations well",
				"Decent logical coherence, especially for structured rewriting",
			},
			Demerits: []string{
				"Noticeably slower than the others",
				"Less nuanced on subtle philosophy/literature than Anthropic",
				"Output can feel mechanical if pushed beyond bulk processing",
			},
		},
		{
			ID:          "perplexity",
			Name:        "ZHI 4 (Perplexity)",
			Description: "Highly cost-effective but with variable quality",
			Pricing: []Tier{
				{PriceUSD: 5, Words: 6_410_255},
				{PriceUSD: 10, Words: 13_461_530},
				{PriceUSD: 25, Words: 35_256_400},
				{PriceUSD: 50, Words: 76_923_050},
				{PriceUSD: 100, Words: 173_176_900},
			},
			Merits: []string{
				"Very cheap for API calls (currently subsidized)",
				"Good for quick turnarounds, exploratory rewrites",
				"Sometimes surprisingly concise and pointed",
			},
			Demerits: []string{
				"Quality varies, can be shallow compared to Anthropic/OpenAI",
				"Weak on sustained long-form consistency",
				"Infrastructure less mature, risk of pricing changing abruptly",
			},
		},
	}
}
