package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrFeatureDisabled is returned when AI is switched off or the monthly
	// budget is spent
	ErrFeatureDisabled = errors.New("AI features are disabled")

	// ErrTimeout is returned when the provider call hits its deadline or the
	// request is cancelled
	ErrTimeout = errors.New("AI provider timed out")

	// ErrMalformedResponse is returned when the provider reply is not the
	// JSON document that was asked for
	ErrMalformedResponse = errors.New("AI provider returned a malformed response")
)

// ProviderError is a failed provider call. Body is kept for logs and must not
// be shown to callers.
type ProviderError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("AI provider error: %v", e.Err)
	}
	return fmt.Sprintf("AI provider error: status %d", e.StatusCode)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Refundable reports whether a charge taken before the call should be
// returned to the caller
func Refundable(err error) bool {
	var perr *ProviderError
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrMalformedResponse) || errors.As(err, &perr)
}
