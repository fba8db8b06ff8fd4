// Package auth inspects the bearer tokens stored in the preferences.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the subset of access-token claims the client cares about.
type Claims struct {
	jwt.RegisteredClaims
	Name string `json:"name,omitempty"`
}

// TokenInfo summarizes an access token.
type TokenInfo struct {
	Subject   string
	Name      string
	ExpiresAt time.Time
	Expired   bool
}

// Inspect decodes token without verifying its signature. The server is the
// authority on validity; the client only reads subject and expiry.
func Inspect(token string, now time.Time) (*TokenInfo, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	info := &TokenInfo{Name: claims.Name}
	sub, err := claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	info.Subject = sub

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("failed to get expiry: %w", err)
	}
	if exp != nil {
		info.ExpiresAt = exp.Time
		info.Expired = !now.Before(exp.Time)
	}
	return info, nil
}
