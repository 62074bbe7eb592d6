package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-for-testing")

func TestIssueAndParseUserToken(t *testing.T) {
	token, exp, err := IssueUserToken("user-123", testSecret, time.Hour, time.Now())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	userID, err := ParseUserToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestParseUserToken_Rejects(t *testing.T) {
	valid, _, err := IssueUserToken("user-123", testSecret, time.Hour, time.Now())
	require.NoError(t, err)

	expired, _, err := IssueUserToken("user-123", testSecret, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject: "user-123",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret []byte
	}{
		{"wrong secret", valid, []byte("other")},
		{"expired", expired, testSecret},
		{"missing subject", noSubject, testSecret},
		{"alg none", unsigned, testSecret},
		{"garbage", "not-a-jwt", testSecret},
		{"empty", "", testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUserToken(tt.token, tt.secret)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestIssueUserToken_RequiresUser(t *testing.T) {
	_, _, err := IssueUserToken("", testSecret, time.Hour, time.Now())
	assert.Error(t, err)
}

func TestCaller(t *testing.T) {
	assert.True(t, Guest().IsGuest())
	assert.False(t, Registered("u1").IsGuest())
	assert.Equal(t, "u1", Registered("u1").UserID)
}
