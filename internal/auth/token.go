// ABOUTME: JWT domain tokens for authenticating widget requests
// ABOUTME: HS256 only; the subject claim carries the registered domain ID

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier checks a widget-presented token and returns the domain ID it
// was minted for.
type TokenVerifier interface {
	Verify(tokenString string) (domainID string, err error)
}

// domainClaims is the claim set carried by domain tokens. Only registered
// claims are used; the subject is the domain ID.
type domainClaims struct {
	jwt.RegisteredClaims
}

// JWTVerifier mints and verifies HS256-signed domain tokens. Any other
// signing algorithm, including "none", is rejected at parse time.
type JWTVerifier struct {
	secret  []byte
	methods []string
}

// NewJWTVerifier creates a verifier keyed with secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{
		secret:  secret,
		methods: []string{jwt.SigningMethodHS256.Alg()},
	}
}

// Verify checks the signature and validity window and returns the domain ID
// from the subject claim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	claims := &domainClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods(v.methods),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return "", ErrExpiredToken
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate mints a token for domainID that expires after expiresIn.
func (v *JWTVerifier) Generate(domainID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := domainClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   domainID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
