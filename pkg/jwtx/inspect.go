// Package jwtx inspects JWT claims on the client side.
//
// Nothing here verifies signatures. The backend is the security boundary;
// the client only peeks at the exp claim to decide whether presenting a
// stored token is worth a round trip. A malformed token is simply invalid.
package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry reports a token whose payload carries no exp claim.
var ErrNoExpiry = errors.New("jwtx: token has no expiry claim")

var parser = jwt.NewParser()

// Expiration extracts the exp claim from a token without verifying its
// signature. Returns an error for malformed tokens or tokens without exp.
func Expiration(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, err
	}
	if exp == nil {
		return time.Time{}, ErrNoExpiry
	}

	return exp.Time, nil
}

// IsActive reports whether the token's exp claim is after now. It returns
// false for malformed input, missing claims, or past expiry, and never
// panics. This is a UX check only.
func IsActive(token string, now time.Time) bool {
	exp, err := Expiration(token)
	if err != nil {
		return false
	}
	return exp.After(now)
}
