package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jobboard/aicredits/internal/clock"
	"github.com/jobboard/aicredits/internal/models"
)

// BalanceRepository owns credit_balances and credit_transactions.
// Every balance change writes its ledger row in the same transaction.
type BalanceRepository struct {
	db    *DB
	clock clock.Clock
}

// NewBalanceRepository creates a new balance repository
func NewBalanceRepository(db *DB) *BalanceRepository {
	return &BalanceRepository{db: db, clock: clock.Real()}
}

// GrantParams describes a credit grant
type GrantParams struct {
	UserID      string
	Amount      models.Credits
	Source      models.TransactionType
	Description string
	// IdempotencyKey makes the grant apply at most once. Empty means no key.
	IdempotencyKey string
}

// GrantResult is the outcome of a grant
type GrantResult struct {
	Balance models.Credits
	// Applied is false when the idempotency key was already used
	Applied bool
}

// DebitResult is the outcome of a successful debit
type DebitResult struct {
	Balance       models.Credits
	TransactionID uuid.UUID
}

// InsufficientBalanceError carries the balance seen when a debit was refused.
// It matches ErrInsufficientBalance with errors.Is.
type InsufficientBalanceError struct {
	Required  models.Credits
	Available models.Credits
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// GetBalance returns the user's balance; a user with no row has 0.
func (r *BalanceRepository) GetBalance(ctx context.Context, userID string) (models.Credits, error) {
	var balance models.Credits
	err := r.db.conn.GetContext(ctx, &balance,
		r.db.rebind(`SELECT balance FROM credit_balances WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

// Debit subtracts amount if and only if the balance covers it, and records
// a usage row. The check and the subtraction are one statement, so
// concurrent debits can never take the balance below zero.
func (r *BalanceRepository) Debit(ctx context.Context, userID string, amount models.Credits, description string) (*DebitResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var result DebitResult
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := r.clock.Now()

		var newBalance models.Credits
		err := tx.GetContext(ctx, &newBalance, r.db.rebind(`
			UPDATE credit_balances
			SET balance = balance - ?, updated_at = ?
			WHERE user_id = ? AND balance >= ?
			RETURNING balance`),
			amount, now, userID, amount)
		if errors.Is(err, sql.ErrNoRows) {
			available, readErr := r.balanceInTx(ctx, tx, userID)
			if readErr != nil {
				return readErr
			}
			return &InsufficientBalanceError{Required: amount, Available: available}
		}
		if err != nil {
			return fmt.Errorf("failed to debit balance: %w", err)
		}

		txn := &models.CreditTransaction{
			ID:          uuid.New(),
			UserID:      userID,
			Amount:      -amount,
			Type:        models.TransactionUsage,
			Description: description,
			CreatedAt:   now,
		}
		if _, err := r.insertTransaction(ctx, tx, txn); err != nil {
			return err
		}

		result = DebitResult{Balance: newBalance, TransactionID: txn.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Grant adds credits and records a ledger row of the given source. With an
// idempotency key, a repeated grant changes nothing and reports Applied=false.
func (r *BalanceRepository) Grant(ctx context.Context, p GrantParams) (*GrantResult, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !p.Source.IsGrantSource() {
		return nil, ErrInvalidSource
	}

	var result GrantResult
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		now := r.clock.Now()

		txn := &models.CreditTransaction{
			ID:          uuid.New(),
			UserID:      p.UserID,
			Amount:      p.Amount,
			Type:        p.Source,
			Description: p.Description,
			CreatedAt:   now,
		}
		if p.IdempotencyKey != "" {
			key := p.IdempotencyKey
			txn.IdempotencyKey = &key
		}

		inserted, err := r.insertTransaction(ctx, tx, txn)
		if err != nil {
			return err
		}
		if !inserted {
			balance, err := r.balanceInTx(ctx, tx, p.UserID)
			if err != nil {
				return err
			}
			result = GrantResult{Balance: balance, Applied: false}
			return nil
		}

		var newBalance models.Credits
		err = tx.GetContext(ctx, &newBalance, r.db.rebind(`
			INSERT INTO credit_balances (user_id, balance, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id) DO UPDATE
			SET balance = credit_balances.balance + excluded.balance,
			    updated_at = excluded.updated_at
			RETURNING balance`),
			p.UserID, p.Amount, now, now)
		if err != nil {
			return fmt.Errorf("failed to credit balance: %w", err)
		}

		result = GrantResult{Balance: newBalance, Applied: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// HasTransactionOfType reports whether the user has any ledger row of type t
func (r *BalanceRepository) HasTransactionOfType(ctx context.Context, userID string, t models.TransactionType) (bool, error) {
	var count int
	err := r.db.conn.GetContext(ctx, &count, r.db.rebind(`
		SELECT COUNT(*) FROM credit_transactions
		WHERE user_id = ? AND type = ?`), userID, t)
	if err != nil {
		return false, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count > 0, nil
}

// HasReceivedSignupBonus reports whether a signup bonus was ever granted
func (r *BalanceRepository) HasReceivedSignupBonus(ctx context.Context, userID string) (bool, error) {
	return r.HasTransactionOfType(ctx, userID, models.TransactionSignupBonus)
}

// ListTransactions returns the user's ledger, newest first
func (r *BalanceRepository) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]models.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}

	var txns []models.CreditTransaction
	err := r.db.conn.SelectContext(ctx, &txns, r.db.rebind(`
		SELECT id, user_id, amount, type, description, idempotency_key, created_at
		FROM credit_transactions
		WHERE user_id = ?
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?`), userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

// SumTransactions returns the sum of all ledger amounts for the user.
// It equals the stored balance.
func (r *BalanceRepository) SumTransactions(ctx context.Context, userID string) (models.Credits, error) {
	var sum models.Credits
	err := r.db.conn.GetContext(ctx, &sum, r.db.rebind(`
		SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

func (r *BalanceRepository) balanceInTx(ctx context.Context, tx *sqlx.Tx, userID string) (models.Credits, error) {
	var balance models.Credits
	err := tx.GetContext(ctx, &balance,
		r.db.rebind(`SELECT balance FROM credit_balances WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// insertTransaction writes a ledger row. It returns false when the row was
// skipped because its idempotency key already exists.
func (r *BalanceRepository) insertTransaction(ctx context.Context, tx *sqlx.Tx, txn *models.CreditTransaction) (bool, error) {
	res, err := tx.ExecContext(ctx, r.db.rebind(`
		INSERT INTO credit_transactions (id, user_id, amount, type, description, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`),
		txn.ID, txn.UserID, txn.Amount, txn.Type, txn.Description, txn.IdempotencyKey, txn.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record transaction: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record transaction: %w", err)
	}
	return n == 1, nil
}
