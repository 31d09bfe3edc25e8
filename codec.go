package tokenlife

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds what the client reads out of a token's payload.
// A token that cannot be parsed has Valid == false and counts as expired.
type Claims struct {
	ExpiresAt time.Time
	Valid     bool
}

// Decode extracts the expiry of a JWT without verifying its signature.
// It never panics; malformed input yields invalid Claims.
//
// This is for scheduling and display only. The server authorizes every request
// regardless of what Decode concludes.
func Decode(token string) (c Claims) {
	defer func() {
		if recover() != nil {
			c = Claims{}
		}
	}()

	if token == "" {
		return Claims{}
	}

	var registered jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &registered); err != nil {
		return Claims{}
	}
	if registered.ExpiresAt == nil {
		return Claims{}
	}
	return Claims{ExpiresAt: registered.ExpiresAt.Time, Valid: true}
}

// TimeLeft returns the whole seconds until expiry, floored and never negative.
// Invalid claims have no time left.
func TimeLeft(c Claims, now time.Time) time.Duration {
	if !c.Valid {
		return 0
	}
	left := c.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return left.Truncate(time.Second)
}

// TokenTimeLeft decodes token and returns its time left at now
func TokenTimeLeft(token string, now time.Time) time.Duration {
	return TimeLeft(Decode(token), now)
}
