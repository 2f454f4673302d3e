package supabase

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims decodes the access token without verifying it. The signature is
// the backend's concern; the client only needs exp and sub to schedule the
// refresh and key profile queries.
func tokenClaims(raw string) (time.Time, string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, "", err
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return exp, claims.Subject, nil
}
