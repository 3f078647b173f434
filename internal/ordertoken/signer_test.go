package ordertoken

import (
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_URLRoundTrip(t *testing.T) {
	s := NewSigner("secret", "https://shop.example.com/", time.Hour)
	orderID := uuid.New()

	link, err := s.URL(orderID)
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com", u.Host)
	assert.Equal(t, "/orders/"+orderID.String(), u.Path)

	token := u.Query().Get("token")
	require.NotEmpty(t, token)
	assert.NoError(t, s.Verify(orderID, token))
}

func TestSigner_VerifyRejects(t *testing.T) {
	s := NewSigner("secret", "https://shop.example.com", time.Hour)
	orderID := uuid.New()
	token, err := s.Token(orderID)
	require.NoError(t, err)

	t.Run("other order", func(t *testing.T) {
		assert.ErrorIs(t, s.Verify(uuid.New(), token), ErrInvalidToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other := NewSigner("not-the-secret", "https://shop.example.com", time.Hour)
		assert.ErrorIs(t, other.Verify(orderID, token), ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		assert.ErrorIs(t, s.Verify(orderID, "not.a.jwt"), ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   orderID.String(),
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}}
		expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		err = s.Verify(orderID, expired)
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: orderID.String(), Issuer: issuer}}
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		assert.ErrorIs(t, s.Verify(orderID, unsigned), ErrInvalidToken)
	})
}

func TestSigner_NoExpiry(t *testing.T) {
	s := NewSigner("secret", "http://localhost", 0)
	orderID := uuid.New()
	token, err := s.Token(orderID)
	require.NoError(t, err)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	require.NoError(t, err)
	assert.Nil(t, parsed.Claims.(*Claims).ExpiresAt)
	assert.NoError(t, s.Verify(orderID, token))
}
