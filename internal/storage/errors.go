package storage

import "errors"

var (
	// ErrInsufficientBalance is returned when a debit exceeds the stored balance
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned for zero or negative credit amounts
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidSource is returned when a grant uses a non-grant ledger type
	ErrInvalidSource = errors.New("invalid grant source")

	// ErrSettingsNotFound is returned when no AI settings row exists
	ErrSettingsNotFound = errors.New("AI settings not found")

	// ErrCachedResponseNotFound is returned when no cached response matches
	ErrCachedResponseNotFound = errors.New("cached response not found")
)
