package auth

import (
	"fmt"
	"time"
)

// Credentials are the client id and secret issued by the cnMaestro Client API page
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// String never includes any part of the secret
func (c Credentials) String() string {
	return fmt.Sprintf("client_id=%s client_secret=%s", c.ClientID, hidden)
}

// Session holds an access token together with the lifetime the server granted it
type Session struct {
	AccessToken string
	TokenType   string
	IssuedAt    time.Time
	ExpiresIn   int64 // seconds

	// ValidatedExpiresIn is the lifetime in seconds the validation endpoint
	// reported when the session was acquired
	ValidatedExpiresIn int64
}

// ExpiresAt is the hard expiry of the token
func (s *Session) ExpiresAt() time.Time {
	return s.IssuedAt.Add(time.Duration(s.ExpiresIn) * time.Second)
}

// Expired reports whether the token must not be used at the given instant
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}

// Remaining returns the lifetime left at the given instant, never negative
func (s *Session) Remaining(now time.Time) time.Duration {
	if d := s.ExpiresAt().Sub(now); d > 0 {
		return d
	}
	return 0
}

// AuthorizationHeader returns the value of the Authorization header for downstream calls
func (s *Session) AuthorizationHeader() string {
	return "Bearer " + s.AccessToken
}

// validateResponse is the body of /api/v1/access/validate_token
type validateResponse struct {
	ExpiresIn int64 `json:"expires_in"`
}

const hidden = "*****"

// Mask keeps only the first few characters of an access token for logging.
// Secrets are never passed through it.
func Mask(s string) string {
	if len(s) <= 5 {
		return hidden
	}
	return s[:5] + "..."
}
