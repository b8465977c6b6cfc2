package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier(testSecret, "accounts")

	token, err := v.Issue("acc-1", "user@example.com", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims.Subject)
	assert.Equal(t, "user@example.com", claims.Email)

	id, err := v.TokenVerifier()(token)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", id.AccountID)
	assert.Equal(t, "user@example.com", id.Email)
}

func TestVerifier_Expired(t *testing.T) {
	v := NewVerifier(testSecret, "")
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := v.Issue("acc-1", "", time.Hour)
	require.NoError(t, err)

	v.now = time.Now
	_, err = v.Verify(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerifier_WrongSecret(t *testing.T) {
	token, err := NewVerifier("another-secret-another-secret-xx", "").Issue("acc-1", "", time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier(testSecret, "").Verify(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestVerifier_WrongIssuer(t *testing.T) {
	token, err := NewVerifier(testSecret, "someone-else").Issue("acc-1", "", time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier(testSecret, "accounts").Verify(token)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestVerifier_RejectsOtherAlgorithms(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "acc-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewVerifier(testSecret, "").Verify(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestVerifier_MissingSubject(t *testing.T) {
	v := NewVerifier(testSecret, "")
	token, err := v.Issue("", "user@example.com", time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.EqualError(t, err, "token has no subject")
}

func TestVerifier_MissingExpiry(t *testing.T) {
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "acc-1"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewVerifier(testSecret, "").Verify(token)
	assert.ErrorIs(t, err, jwt.ErrTokenRequiredClaimMissing)
}

func TestVerifier_Garbage(t *testing.T) {
	_, err := NewVerifier(testSecret, "").TokenVerifier()("not-a-token")
	assert.Error(t, err)
}
