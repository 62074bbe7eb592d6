package charge

import (
	"errors"
	"fmt"

	"github.com/jobboard/aicredits/internal/models"
)

var (
	// ErrUnknownPackage is returned when granting a package that does not exist
	ErrUnknownPackage = errors.New("unknown credit package")

	// ErrMissingUser is returned when a registered-user operation has no user ID
	ErrMissingUser = errors.New("user id is required")
)

// Actions suggested to a caller who ran out of credits
const (
	ActionSignUp   = "sign_up"
	ActionPurchase = "purchase"
)

// InsufficientCreditsError reports a refused charge. Guests are pointed at
// sign-up, registered users at a purchase.
type InsufficientCreditsError struct {
	Guest     bool
	Required  models.Credits
	Available models.Credits
}

func (e *InsufficientCreditsError) Error() string {
	who := "user"
	if e.Guest {
		who = "guest"
	}
	return fmt.Sprintf("insufficient credits for %s: required %d, available %d", who, e.Required, e.Available)
}

// Action returns the remedy to show the caller
func (e *InsufficientCreditsError) Action() string {
	if e.Guest {
		return ActionSignUp
	}
	return ActionPurchase
}

// IsInsufficientCredits reports whether err is an *InsufficientCreditsError
func IsInsufficientCredits(err error) bool {
	var target *InsufficientCreditsError
	return errors.As(err, &target)
}
