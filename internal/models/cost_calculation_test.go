package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestModelPriceCalculateCost tests the cost calculation functionality
func TestModelPriceCalculateCost(t *testing.T) {
	gpt4o := ModelPrice{
		Model: "gpt-4o",
		Components: []PricingComponent{
			{Direction: PricingDirectionInput, Unit: PricingUnit1KTokens, Price: 0.0025},
			{Direction: PricingDirectionOutput, Unit: PricingUnit1KTokens, Price: 0.01},
		},
	}

	tests := []struct {
		name     string
		price    ModelPrice
		usage    TokenUsage
		expected USD
	}{
		{
			name:     "input and output tokens",
			price:    gpt4o,
			usage:    TokenUsage{InputTokens: 1000, OutputTokens: 500},
			expected: 0.0025 + 0.005,
		},
		{
			name:     "zero usage",
			price:    gpt4o,
			usage:    TokenUsage{},
			expected: 0,
		},
		{
			name: "per token pricing",
			price: ModelPrice{Components: []PricingComponent{
				{Direction: PricingDirectionInput, Unit: PricingUnitToken, Price: 0.000001},
				{Direction: PricingDirectionOutput, Unit: PricingUnitToken, Price: 0.000002},
			}},
			usage:    TokenUsage{InputTokens: 100, OutputTokens: 100},
			expected: 0.0003,
		},
		{
			name: "cached tokens billed at cache rate",
			price: ModelPrice{Components: []PricingComponent{
				{Direction: PricingDirectionInput, Unit: PricingUnit1MTokens, Price: 2.0},
				{Direction: PricingDirectionCache, Unit: PricingUnit1MTokens, Price: 1.0},
			}},
			usage:    TokenUsage{InputTokens: 1_000_000, CachedTokens: 500_000},
			expected: 1.0 + 0.5,
		},
		{
			name:     "cached tokens without cache rate count as input",
			price:    gpt4o,
			usage:    TokenUsage{InputTokens: 2000, CachedTokens: 1000},
			expected: 0.005,
		},
		{
			name:     "no components",
			price:    ModelPrice{Model: "unknown"},
			usage:    TokenUsage{InputTokens: 1000, OutputTokens: 1000},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.price.CalculateCost(tt.usage)
			assert.InDelta(t, float64(tt.expected), float64(got), 1e-12)
		})
	}
}

func TestDefaultModelPrices(t *testing.T) {
	prices := DefaultModelPrices()
	seen := map[string]bool{}
	for _, p := range prices {
		assert.NotEmpty(t, p.Components, p.Model)
		seen[p.Model] = true
	}
	assert.True(t, seen["gpt-4o"])
	assert.True(t, seen["gpt-4o-mini"])
}

func TestParseGrantSource(t *testing.T) {
	for _, s := range []string{"purchase", "signup_bonus", "promotional", "refund"} {
		got, err := ParseGrantSource(s)
		assert.NoError(t, err)
		assert.Equal(t, TransactionType(s), got)
	}

	_, err := ParseGrantSource("usage")
	assert.Error(t, err)
	_, err = ParseGrantSource("")
	assert.Error(t, err)
}
