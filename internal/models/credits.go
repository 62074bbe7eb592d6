package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Credits is the integer metering unit for AI features. It is not a currency.
type Credits int64

// USD is a provider cost in US dollars. It never converts to Credits.
type USD float64

func (u USD) String() string {
	return fmt.Sprintf("$%.6f", float64(u))
}

//
// Ledger entry types (stored as TEXT)
//

type TransactionType string

const (
	TransactionUsage       TransactionType = "usage"
	TransactionPurchase    TransactionType = "purchase"
	TransactionSignupBonus TransactionType = "signup_bonus"
	TransactionPromotional TransactionType = "promotional"
	TransactionRefund      TransactionType = "refund"
)

// IsGrantSource reports whether t may be used as the source of a grant.
func (t TransactionType) IsGrantSource() bool {
	switch t {
	case TransactionPurchase, TransactionSignupBonus, TransactionPromotional, TransactionRefund:
		return true
	}
	return false
}

// ParseGrantSource validates a grant source received from outside the process.
func ParseGrantSource(s string) (TransactionType, error) {
	t := TransactionType(s)
	if !t.IsGrantSource() {
		return "", fmt.Errorf("invalid grant source %q", s)
	}
	return t, nil
}

//
// CreditBalance (credit_balances table)
//

type CreditBalance struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Balance   Credits   `db:"balance" json:"balance"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

//
// CreditTransaction (credit_transactions table), append-only
//

type CreditTransaction struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	UserID         string          `db:"user_id" json:"user_id"`
	Amount         Credits         `db:"amount" json:"amount"` // negative = usage
	Type           TransactionType `db:"type" json:"type"`
	Description    string          `db:"description" json:"description"`
	IdempotencyKey *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}
