package utils

// Helper functions
func StringPtr(s string) *string {
	return &s
}

// NonEmptyStringPtr returns nil for an empty string.
func NonEmptyStringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
