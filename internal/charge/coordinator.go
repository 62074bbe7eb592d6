// Package charge decides whether a caller may use a metered AI feature and
// takes payment for it: registered users from their stored balance, guests
// from their cookie allotment.
package charge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobboard/aicredits/internal/auth"
	"github.com/jobboard/aicredits/internal/guest"
	"github.com/jobboard/aicredits/internal/metrics"
	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/policy"
	"github.com/jobboard/aicredits/internal/storage"
)

// BalanceStore is the persistence the coordinator needs
type BalanceStore interface {
	GetBalance(ctx context.Context, userID string) (models.Credits, error)
	Debit(ctx context.Context, userID string, amount models.Credits, description string) (*storage.DebitResult, error)
	Grant(ctx context.Context, p storage.GrantParams) (*storage.GrantResult, error)
	HasReceivedSignupBonus(ctx context.Context, userID string) (bool, error)
}

// Result is the outcome of a successful charge
type Result struct {
	Cost      models.Credits
	Remaining models.Credits
	Guest     bool
	// TransactionID is the usage ledger row; uuid.Nil for guests
	TransactionID uuid.UUID
}

// Coordinator charges, refunds and grants credits
type Coordinator struct {
	store   BalanceStore
	policy  *policy.Policy
	guests  *guest.Tracker
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCoordinator creates a coordinator. m may be nil.
func NewCoordinator(store BalanceStore, pol *policy.Policy, guests *guest.Tracker, m *metrics.Metrics, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:   store,
		policy:  pol,
		guests:  guests,
		metrics: m,
		logger:  logger.Named("charge"),
	}
}

// Policy returns the credit policy in use
func (c *Coordinator) Policy() *policy.Policy {
	return c.policy
}

// Charge deducts the feature's cost from a registered user's balance. The
// check and the deduction are atomic in the store; a short balance returns
// *InsufficientCreditsError and changes nothing.
func (c *Coordinator) Charge(ctx context.Context, userID string, feature models.Feature) (*Result, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}

	cost := c.policy.CostOf(feature)
	res, err := c.store.Debit(ctx, userID, cost, fmt.Sprintf("AI usage: %s", feature))
	if err != nil {
		var short *storage.InsufficientBalanceError
		if errors.As(err, &short) {
			c.metrics.ObserveCharge(string(feature), metrics.CallerRegistered, metrics.OutcomeInsufficient, int64(cost))
			return nil, &InsufficientCreditsError{Required: cost, Available: short.Available}
		}
		c.metrics.ObserveCharge(string(feature), metrics.CallerRegistered, metrics.OutcomeError, int64(cost))
		return nil, fmt.Errorf("charge %s: %w", feature, err)
	}

	c.metrics.ObserveCharge(string(feature), metrics.CallerRegistered, metrics.OutcomeCharged, int64(cost))
	c.logger.Debug("charged user",
		zap.String("user_id", userID),
		zap.String("feature", string(feature)),
		zap.Int64("cost", int64(cost)),
		zap.Int64("remaining", int64(res.Balance)))

	return &Result{Cost: cost, Remaining: res.Balance, TransactionID: res.TransactionID}, nil
}

// ChargeGuest deducts the feature's cost from the guest cookie and writes
// the new amount back. Concurrent guest requests can each spend the same
// credits; the cookie is advisory.
func (c *Coordinator) ChargeGuest(w http.ResponseWriter, r *http.Request, feature models.Feature) (*Result, error) {
	cost := c.policy.CostOf(feature)
	remaining := c.guests.Remaining(r)

	if remaining < cost {
		c.metrics.ObserveCharge(string(feature), metrics.CallerGuest, metrics.OutcomeInsufficient, int64(cost))
		return nil, &InsufficientCreditsError{Guest: true, Required: cost, Available: remaining}
	}

	left := remaining - cost
	c.guests.SetRemaining(w, left)
	c.metrics.ObserveCharge(string(feature), metrics.CallerGuest, metrics.OutcomeCharged, int64(cost))

	return &Result{Cost: cost, Remaining: left, Guest: true}, nil
}

// ChargeCaller charges whichever kind of caller made the request
func (c *Coordinator) ChargeCaller(ctx context.Context, w http.ResponseWriter, r *http.Request, caller auth.Caller, feature models.Feature) (*Result, error) {
	if caller.IsGuest() {
		return c.ChargeGuest(w, r, feature)
	}
	return c.Charge(ctx, caller.UserID, feature)
}

// Refund returns credits to a registered user as a refund ledger entry
func (c *Coordinator) Refund(ctx context.Context, userID string, amount models.Credits, reason string) (models.Credits, error) {
	return c.refund(ctx, userID, amount, reason, "")
}

// RefundCharge reverses a registered-user charge. Refunding the same charge
// twice has no further effect.
func (c *Coordinator) RefundCharge(ctx context.Context, userID string, res *Result, reason string) (models.Credits, error) {
	if res == nil || res.Guest {
		return 0, errors.New("only registered-user charges can be refunded")
	}
	return c.refund(ctx, userID, res.Cost, reason, "refund:"+res.TransactionID.String())
}

// RefundGuest gives a guest back the cookie credits a charge took. The
// cookie is rewritten on w, replacing the one ChargeGuest set.
func (c *Coordinator) RefundGuest(w http.ResponseWriter, res *Result, reason string) (models.Credits, error) {
	if res == nil || !res.Guest {
		return 0, errors.New("only guest charges can be refunded to the cookie")
	}

	restored := res.Remaining + res.Cost
	c.guests.SetRemaining(w, restored)
	c.metrics.ObserveRefund(reason)
	c.logger.Debug("refunded guest credits",
		zap.Int64("amount", int64(res.Cost)),
		zap.String("reason", reason))

	return restored, nil
}

func (c *Coordinator) refund(ctx context.Context, userID string, amount models.Credits, reason, key string) (models.Credits, error) {
	if userID == "" {
		return 0, ErrMissingUser
	}

	res, err := c.store.Grant(ctx, storage.GrantParams{
		UserID:         userID,
		Amount:         amount,
		Source:         models.TransactionRefund,
		Description:    "Refund: " + reason,
		IdempotencyKey: key,
	})
	if err != nil {
		return 0, fmt.Errorf("refund: %w", err)
	}

	c.metrics.ObserveRefund(reason)
	c.logger.Info("refunded credits",
		zap.String("user_id", userID),
		zap.Int64("amount", int64(amount)),
		zap.String("reason", reason),
		zap.Bool("applied", res.Applied))

	return res.Balance, nil
}

// Grant adds credits from a purchase, promotion, bonus or refund. A non-empty
// idempotencyKey makes the grant apply at most once.
func (c *Coordinator) Grant(ctx context.Context, userID string, amount models.Credits, source models.TransactionType, description, idempotencyKey string) (*storage.GrantResult, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}

	res, err := c.store.Grant(ctx, storage.GrantParams{
		UserID:         userID,
		Amount:         amount,
		Source:         source,
		Description:    description,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("grant: %w", err)
	}

	c.metrics.ObserveGrant(string(source), res.Applied)
	c.logger.Info("granted credits",
		zap.String("user_id", userID),
		zap.Int64("amount", int64(amount)),
		zap.String("source", string(source)),
		zap.Bool("applied", res.Applied))

	return res, nil
}

// GrantPackage grants the credits of a purchasable package
func (c *Coordinator) GrantPackage(ctx context.Context, userID, pkg, idempotencyKey string) (*storage.GrantResult, error) {
	amount, ok := c.policy.PackageCredits(pkg)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackage, pkg)
	}
	return c.Grant(ctx, userID, amount, models.TransactionPurchase, "Purchase: "+pkg, idempotencyKey)
}

// GrantSignupBonus grants the one-time signup bonus. Later calls return the
// current balance with Applied=false.
func (c *Coordinator) GrantSignupBonus(ctx context.Context, userID string) (*storage.GrantResult, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}

	received, err := c.store.HasReceivedSignupBonus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("signup bonus: %w", err)
	}
	if received || c.policy.SignupBonus() == 0 {
		balance, err := c.store.GetBalance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("signup bonus: %w", err)
		}
		return &storage.GrantResult{Balance: balance, Applied: false}, nil
	}

	// The key closes the race between the check above and the grant.
	return c.Grant(ctx, userID, c.policy.SignupBonus(), models.TransactionSignupBonus,
		"Signup bonus", "signup_bonus:"+userID)
}

// GetBalance returns a registered user's balance
func (c *Coordinator) GetBalance(ctx context.Context, userID string) (models.Credits, error) {
	if userID == "" {
		return 0, ErrMissingUser
	}
	return c.store.GetBalance(ctx, userID)
}

// GuestBalance returns the guest's remaining cookie credits
func (c *Coordinator) GuestBalance(r *http.Request) models.Credits {
	return c.guests.Remaining(r)
}
