// Package auth reads caller identity established upstream.
//
// Nothing here authenticates a request. Tokens are expected to have been
// validated by the API gateway in front of the service; the subject is only
// used to annotate logs.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWT-related errors
var (
	ErrInvalidToken   = errors.New("invalid token format")
	ErrMissingSubject = errors.New("subject claim missing from token")
)

// CallerClaims extends the standard JWT claims with the username Cognito
// style identity providers add to access tokens
type CallerClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// ExtractSubject parses a JWT and returns its subject, falling back to the
// username claim. The signature is not checked.
func ExtractSubject(tokenString string) (string, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &CallerClaims{})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*CallerClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	switch {
	case claims.Subject != "":
		return claims.Subject, nil
	case claims.Username != "":
		return claims.Username, nil
	default:
		return "", ErrMissingSubject
	}
}
