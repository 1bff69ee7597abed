package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/devpair/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-signing-key")

func TestTokenManager_IssueVerify(t *testing.T) {
	tm := NewTokenManager(testKey)
	user := types.User{Id: "42", Username: "alice"}

	token, err := tm.Issue(user, time.Hour)
	require.NoError(t, err, "expected no error issuing token")

	got, err := tm.Verify(token)
	assert.NoError(t, err, "expected token to verify")
	assert.Equal(t, user, got, "expected identity to round trip through the token")
}

func TestTokenManager_Verify(t *testing.T) {
	tm := NewTokenManager(testKey)

	sign := func(claims jwt.MapClaims, key []byte) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}

	tcases := []struct {
		name  string
		token string
	}{
		{
			name:  "empty token",
			token: "",
		},
		{
			name:  "garbage token",
			token: "not-a-jwt",
		},
		{
			name: "wrong signing key",
			token: sign(jwt.MapClaims{
				userIdClaim:   "1",
				usernameClaim: "bob",
				expClaim:      time.Now().Add(time.Hour).Unix(),
			}, []byte("other-key")),
		},
		{
			name: "expired token",
			token: sign(jwt.MapClaims{
				userIdClaim:   "1",
				usernameClaim: "bob",
				expClaim:      time.Now().Add(-time.Hour).Unix(),
			}, testKey),
		},
		{
			name: "missing username",
			token: sign(jwt.MapClaims{
				userIdClaim: "1",
				expClaim:    time.Now().Add(time.Hour).Unix(),
			}, testKey),
		},
		{
			name: "missing user id",
			token: sign(jwt.MapClaims{
				usernameClaim: "bob",
				expClaim:      time.Now().Add(time.Hour).Unix(),
			}, testKey),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			user, err := tm.Verify(tc.token)
			assert.ErrorIs(t, err, ErrUnauthorized, "expected unauthorized error")
			assert.Equal(t, types.User{}, user, "expected empty identity")
		})
	}

	t.Run("missing token is distinguishable", func(t *testing.T) {
		_, err := tm.Verify("   ")
		assert.ErrorIs(t, err, ErrNoToken)

		_, err = tm.Verify("not-a-jwt")
		assert.NotErrorIs(t, err, ErrNoToken)
	})
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	assert.NotEqual(t, "s3cret", hash, "expected password to be hashed")
	assert.True(t, VerifyPassword(hash, "s3cret"), "expected correct password to verify")
	assert.False(t, VerifyPassword(hash, "wrong"), "expected wrong password to fail")
}
