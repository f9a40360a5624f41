package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidActionToken = errors.New("invalid or expired session")

// ActionSigner signs short lived tokens that carry a single purpose, such as
// the handle returned to a client between the password and mfa login steps.
type ActionSigner struct {
	secret []byte
}

func NewActionSigner(secret []byte) *ActionSigner {
	return &ActionSigner{secret: secret}
}

type actionClaims struct {
	Purpose string `json:"purpose"`
	Ref     string `json:"ref"`
	jwt.RegisteredClaims
}

func (s *ActionSigner) Sign(purpose, ref string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := actionClaims{
		Purpose: purpose,
		Ref:     ref,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("error signing %v token: %w", purpose, err)
	}
	return token, nil
}

// Verify returns the reference carried by a valid, unexpired token issued for
// purpose.
func (s *ActionSigner) Verify(token, purpose string) (string, error) {
	var claims actionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", ErrInvalidActionToken
	}
	if claims.Purpose != purpose || claims.Ref == "" {
		return "", ErrInvalidActionToken
	}
	return claims.Ref, nil
}
