// Package auth resolves bearer tokens to a stable user identifier. Token
// minting belongs to the external identity provider; this service only
// validates what that provider issued.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrMissingSubject is returned when a valid token carries no subject.
var ErrMissingSubject = errors.New("token has no subject")

// Verifier validates bearer tokens and extracts the user identifier.
// Supports dual-key rotation: tokens signed with either the current or the
// previous secret validate, so the provider can rotate without downtime.
type Verifier struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
}

// NewVerifier creates a Verifier for a single signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		currentSecret: []byte(secret),
		leeway:        DefaultLeeway,
	}
}

// NewVerifierWithRotation creates a Verifier that accepts tokens signed with
// either secret. Set previousSecret to empty string if no rotation is in
// progress.
func NewVerifierWithRotation(currentSecret, previousSecret string) *Verifier {
	v := &Verifier{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
	}
	if previousSecret != "" {
		v.previousSecret = []byte(previousSecret)
	}
	return v
}

// WithLeeway overrides the validation leeway and returns the verifier.
func (v *Verifier) WithLeeway(leeway time.Duration) *Verifier {
	v.leeway = leeway
	return v
}

// Resolve validates a token and returns the user id from its subject claim.
func (v *Verifier) Resolve(tokenString string) (string, error) {
	claims, err := v.validate(tokenString, v.currentSecret)
	if err == nil {
		return subjectOf(claims)
	}

	// If the current secret fails and a previous secret is available, the
	// token may predate a rotation.
	if v.previousSecret != nil {
		if claims, prevErr := v.validate(tokenString, v.previousSecret); prevErr == nil {
			return subjectOf(claims)
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", ErrExpiredToken
	}
	return "", ErrInvalidToken
}

func (v *Verifier) validate(tokenString string, secret []byte) (*jwt.RegisteredClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Only HS256 tokens are accepted.
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithLeeway(v.leeway))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func subjectOf(claims *jwt.RegisteredClaims) (string, error) {
	if claims.Subject == "" {
		return "", ErrMissingSubject
	}
	return claims.Subject, nil
}
