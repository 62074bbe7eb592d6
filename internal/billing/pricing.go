package billing

import (
	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/models"
)

// PriceTable maps model names to their per-token prices
type PriceTable struct {
	prices map[string]models.ModelPrice
	logger *zap.Logger
}

// NewPriceTable indexes prices by model name. Later entries win.
func NewPriceTable(prices []models.ModelPrice, logger *zap.Logger) *PriceTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &PriceTable{
		prices: make(map[string]models.ModelPrice, len(prices)),
		logger: logger.Named("pricing"),
	}
	for _, p := range prices {
		t.prices[p.Model] = p
	}
	return t
}

// Cost returns the USD cost of usage on model. An unpriced model costs 0
// and is logged, since the call already happened and must not fail.
func (t *PriceTable) Cost(model string, usage models.TokenUsage) models.USD {
	price, ok := t.prices[model]
	if !ok {
		t.logger.Warn("no price configured for model", zap.String("model", model))
		return 0
	}
	return price.CalculateCost(usage)
}

// Has reports whether model has a price
func (t *PriceTable) Has(model string) bool {
	_, ok := t.prices[model]
	return ok
}
