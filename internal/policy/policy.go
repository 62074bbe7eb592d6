// Package policy answers what a metered feature costs and whether a balance
// covers it. It holds no state beyond the static tables it was built with.
package policy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/guest"
	"github.com/jobboard/aicredits/internal/models"
)

// DefaultCost is charged for a feature missing from the cost table, so a
// newly added feature is never free.
const DefaultCost models.Credits = 10

// Policy is the feature cost and package table.
type Policy struct {
	costs          map[models.Feature]models.Credits
	packages       map[string]models.Credits
	signupBonus    models.Credits
	guestAllotment models.Credits
	log            *zap.Logger
}

// Config holds the static tables a Policy is built from.
type Config struct {
	FeatureCosts   map[models.Feature]models.Credits
	Packages       map[string]models.Credits
	SignupBonus    models.Credits
	GuestAllotment models.Credits
}

// New validates cfg and returns a Policy. Every cost and package amount
// must be positive.
func New(cfg Config, log *zap.Logger) (*Policy, error) {
	if log == nil {
		log = zap.NewNop()
	}

	costs := make(map[models.Feature]models.Credits, len(cfg.FeatureCosts))
	for feature, cost := range cfg.FeatureCosts {
		if cost <= 0 {
			return nil, fmt.Errorf("feature %q: cost must be positive, got %d", feature, cost)
		}
		costs[feature] = cost
	}

	packages := make(map[string]models.Credits, len(cfg.Packages))
	for name, amount := range cfg.Packages {
		if amount <= 0 {
			return nil, fmt.Errorf("package %q: amount must be positive, got %d", name, amount)
		}
		packages[name] = amount
	}

	if cfg.SignupBonus < 0 {
		return nil, fmt.Errorf("signup bonus must not be negative, got %d", cfg.SignupBonus)
	}

	allotment := cfg.GuestAllotment
	if allotment <= 0 {
		allotment = guest.DefaultAllotment
	}

	return &Policy{
		costs:          costs,
		packages:       packages,
		signupBonus:    cfg.SignupBonus,
		guestAllotment: allotment,
		log:            log.Named("policy"),
	}, nil
}

// CostOf returns the credit cost of feature, or DefaultCost when it is not
// in the table.
func (p *Policy) CostOf(feature models.Feature) models.Credits {
	if cost, ok := p.costs[feature]; ok {
		return cost
	}
	p.log.Warn("feature has no configured cost, charging default",
		zap.String("feature", string(feature)),
		zap.Int64("default_cost", int64(DefaultCost)),
	)
	return DefaultCost
}

// CanAfford reports whether balance covers one use of feature.
func (p *Policy) CanAfford(balance models.Credits, feature models.Feature) bool {
	return balance >= p.CostOf(feature)
}

// PackageCredits returns the credits granted by a purchasable package.
func (p *Policy) PackageCredits(name string) (models.Credits, bool) {
	amount, ok := p.packages[name]
	return amount, ok
}

func (p *Policy) SignupBonus() models.Credits {
	return p.signupBonus
}

func (p *Policy) GuestAllotment() models.Credits {
	return p.guestAllotment
}
