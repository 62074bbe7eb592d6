package utils

import (
	"crypto/sha256"
	"crypto/subtle"
)

// SecureCompare compares two secrets in constant time. Hashing first keeps
// the comparison length-independent.
func SecureCompare(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
