// Package ordertoken signs and verifies the links that give a shopper,
// including a guest, access to one order.
package ordertoken

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "cart-engine"

// ErrInvalidToken is returned by Verify for a token that is malformed,
// expired, or issued for another order.
var ErrInvalidToken = errors.New("invalid order token")

// ErrExpiredToken accompanies ErrInvalidToken when the only problem is age.
var ErrExpiredToken = errors.New("order token expired")

// Claims are the JWT claims of an order token. Subject is the order ID.
type Claims struct {
	jwt.RegisteredClaims
}

// Signer issues HS256 order tokens.
type Signer struct {
	secret  []byte
	baseURL string
	expiry  time.Duration
}

// NewSigner creates a Signer. An expiry of zero issues tokens that never
// expire.
func NewSigner(secret, baseURL string, expiry time.Duration) *Signer {
	return &Signer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		expiry:  expiry,
	}
}

// Token signs a token for orderID.
func (s *Signer) Token(orderID uuid.UUID) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  orderID.String(),
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if s.expiry != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign order token: %w", err)
	}
	return signed, nil
}

// URL returns <base>/orders/<id>?token=<jwt>.
func (s *Signer) URL(orderID uuid.UUID) (string, error) {
	token, err := s.Token(orderID)
	if err != nil {
		return "", err
	}
	return s.baseURL + "/orders/" + orderID.String() + "?token=" + url.QueryEscape(token), nil
}

// Verify checks that token was signed by s for orderID.
func (s *Signer) Verify(orderID uuid.UUID, token string) error {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithSubject(orderID.String()))
	if errors.Is(err, jwt.ErrTokenExpired) {
		return fmt.Errorf("%w: %w", ErrInvalidToken, ErrExpiredToken)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
