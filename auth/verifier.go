// Package auth provides the default identity verifier implementation.
// The identity service signs short-lived HS256 tokens carrying the caller
// profile; the coordinator only validates them, it never issues sessions
// of its own.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tarot-live/contract"
	"tarot-live/domain"
	"tarot-live/errors"
)

// CustomClaims defines the profile data stored inside the JWT.
type CustomClaims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
	Active      bool   `json:"active"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

type JWTVerifier struct {
	secret []byte
}

var _ contract.IdentityVerifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses and validates the signature and expiration of a bearer
// credential and resolves it into the caller identity. An identity flagged
// inactive is rejected even when the token itself is valid.
func (v *JWTVerifier) Verify(_ context.Context, rawCredential string) (domain.UserIdentity, error) {
	if rawCredential == "" {
		return domain.UserIdentity{}, errors.ErrUnauthenticated
	}

	token, err := jwt.ParseWithClaims(rawCredential, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return domain.UserIdentity{}, fmt.Errorf("%w: %v", errors.ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return domain.UserIdentity{}, errors.ErrUnauthenticated
	}
	if !claims.Active {
		return domain.UserIdentity{}, errors.ErrAccountInactive
	}

	return domain.UserIdentity{
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		Avatar:      claims.Avatar,
		Active:      claims.Active,
		Role:        claims.Role,
	}, nil
}

// GenerateToken creates a signed credential for a user profile.
// Used by the tester tool and tests; production tokens come from the
// identity service.
func GenerateToken(secret string, identity domain.UserIdentity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Avatar:      identity.Avatar,
		Active:      identity.Active,
		Role:        identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "tarot-live",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
