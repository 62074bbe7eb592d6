package auth

// Caller is the identity behind a request: a registered user or a guest.
type Caller struct {
	UserID string // empty for guests
}

// Guest returns the anonymous caller
func Guest() Caller {
	return Caller{}
}

// Registered returns a caller for a signed-in user
func Registered(userID string) Caller {
	return Caller{UserID: userID}
}

// IsGuest reports whether the caller is anonymous
func (c Caller) IsGuest() bool {
	return c.UserID == ""
}
