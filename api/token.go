package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// sessionTokenTTL bounds how long a bearer token is accepted; the
	// session row itself may be terminated earlier.
	sessionTokenTTL = 24 * time.Hour

	// challengeTokenTTL bounds the window between a password login and
	// its MFA completion.
	challengeTokenTTL = 5 * time.Minute

	scopeMFAChallenge = "mfa_challenge"
)

var errInvalidToken = errors.New("invalid token")

type tokenClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// issueSessionToken signs a bearer token bound to the session: sub is
// the owner, jti is the live session token checked against the registry
// on every request.
func issueSessionToken(secret []byte, ownerID, sessionToken string, now time.Time) (string, error) {
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			ID:        sessionToken,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// issueChallengeToken signs the short-lived token handed back when a
// login requires an MFA code. It carries no session.
func issueChallengeToken(secret []byte, ownerID string, now time.Time) (string, error) {
	claims := tokenClaims{
		Scope: scopeMFAChallenge,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(challengeTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing challenge token: %w", err)
	}
	return signed, nil
}

func parseToken(secret []byte, raw string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errInvalidToken
	}
	if claims.Subject == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}
