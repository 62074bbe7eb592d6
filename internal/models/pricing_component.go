package models

//
// Pricing enums (as written in credits.yml)
//

type PricingDirection string
type PricingUnit string

const (
	PricingDirectionInput  PricingDirection = "input"
	PricingDirectionOutput PricingDirection = "output"
	PricingDirectionCache  PricingDirection = "cache"

	PricingUnitToken    PricingUnit = "token"
	PricingUnit1KTokens PricingUnit = "1k_tokens"
	PricingUnit1MTokens PricingUnit = "1m_tokens"
)

// PricingComponent is one priced token direction of a model.
type PricingComponent struct {
	Direction PricingDirection `mapstructure:"direction" json:"direction"`
	Unit      PricingUnit      `mapstructure:"unit" json:"unit"`
	Price     USD              `mapstructure:"price" json:"price"`
}
