package session

import (
	"crypto/sha256"
	"encoding/base64"
	"time"
)

// Session is an authenticated login. ID is derived from the bearer token
// with TokenID; the token itself is never persisted.
type Session struct {
	ID          string
	PrincipalID string
	CreatedAt   time.Time
	ExpiresAt   time.Time

	// Device metadata captured at login.
	IP        string
	UserAgent string
	Label     string
}

// ValidAt reports whether the session is usable at now. A session is expired
// from ExpiresAt onwards.
func (s *Session) ValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// TokenID maps an opaque bearer token to its storage identifier.
func TokenID(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
