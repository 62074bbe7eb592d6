package utils

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
)

// IsRecoverableError reports whether err is transient and worth retrying:
// timeouts, dropped connections and lock contention.
func IsRecoverableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	recoverableErrors := []string{
		"connection refused",
		"connection reset",
		"database is locked",
		"too many connections",
	}

	msg := strings.ToLower(err.Error())
	for _, recoverable := range recoverableErrors {
		if strings.Contains(msg, recoverable) {
			return true
		}
	}
	return false
}
