package models

// ModelPrice is the static USD price list of one upstream model.
type ModelPrice struct {
	Model      string             `mapstructure:"model" json:"model"`
	Components []PricingComponent `mapstructure:"components" json:"components"`
}

// CalculateCost calculates the USD cost of a provider call.
// Cached tokens are billed at the cache rate when one is listed and are
// otherwise treated as regular input.
func (m *ModelPrice) CalculateCost(usage TokenUsage) USD {
	var cost USD

	input := usage.InputTokens
	if usage.CachedTokens > 0 {
		if component := m.findPricingComponent(PricingDirectionCache); component != nil {
			cost += component.costOf(usage.CachedTokens)
			input -= usage.CachedTokens
			if input < 0 {
				input = 0
			}
		}
	}

	if input > 0 {
		if component := m.findPricingComponent(PricingDirectionInput); component != nil {
			cost += component.costOf(input)
		}
	}

	if usage.OutputTokens > 0 {
		if component := m.findPricingComponent(PricingDirectionOutput); component != nil {
			cost += component.costOf(usage.OutputTokens)
		}
	}

	return cost
}

// findPricingComponent returns the first component priced for direction.
func (m *ModelPrice) findPricingComponent(direction PricingDirection) *PricingComponent {
	for i := range m.Components {
		if m.Components[i].Direction == direction {
			return &m.Components[i]
		}
	}
	return nil
}

func (c *PricingComponent) costOf(tokens int) USD {
	if tokens <= 0 {
		return 0
	}

	switch c.Unit {
	case PricingUnitToken:
		return USD(float64(tokens)) * c.Price
	case PricingUnit1KTokens:
		return USD(float64(tokens)/1_000) * c.Price
	case PricingUnit1MTokens:
		return USD(float64(tokens)/1_000_000) * c.Price
	default:
		return 0
	}
}

// DefaultModelPrices is the price table used when credits.yml lists none.
func DefaultModelPrices() []ModelPrice {
	return []ModelPrice{
		{
			Model: "gpt-4o",
			Components: []PricingComponent{
				{Direction: PricingDirectionInput, Unit: PricingUnit1MTokens, Price: 2.50},
				{Direction: PricingDirectionCache, Unit: PricingUnit1MTokens, Price: 1.25},
				{Direction: PricingDirectionOutput, Unit: PricingUnit1MTokens, Price: 10.00},
			},
		},
		{
			Model: "gpt-4o-mini",
			Components: []PricingComponent{
				{Direction: PricingDirectionInput, Unit: PricingUnit1MTokens, Price: 0.15},
				{Direction: PricingDirectionCache, Unit: PricingUnit1MTokens, Price: 0.075},
				{Direction: PricingDirectionOutput, Unit: PricingUnit1MTokens, Price: 0.60},
			},
		},
	}
}
