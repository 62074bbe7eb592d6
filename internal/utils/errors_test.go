package utils

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRecoverableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "deadline exceeded",
			err:      fmt.Errorf("insert usage: %w", context.DeadlineExceeded),
			expected: true,
		},
		{
			name:     "bad connection",
			err:      driver.ErrBadConn,
			expected: true,
		},
		{
			name:     "network timeout",
			err:      fmt.Errorf("dial: %w", timeoutErr{}),
			expected: true,
		},
		{
			name:     "connection refused",
			err:      errors.New("dial tcp 127.0.0.1:5432: connect: Connection refused"),
			expected: true,
		},
		{
			name:     "sqlite busy",
			err:      errors.New("database is locked (5) (SQLITE_BUSY)"),
			expected: true,
		},
		{
			name:     "constraint violation",
			err:      errors.New("UNIQUE constraint failed: ai_usage_log.id"),
			expected: false,
		},
		{
			name:     "validation",
			err:      errors.New("invalid input"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRecoverableError(tt.err); got != tt.expected {
				t.Errorf("IsRecoverableError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}
