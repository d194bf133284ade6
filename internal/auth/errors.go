package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Phases of the session lifecycle that can fail with an AuthError
const (
	PhaseTokenExchange = "token-exchange"
	PhaseValidation    = "validation"
)

// AuthError is returned when the token endpoint or the validation endpoint
// answers with anything other than HTTP 200.
type AuthError struct {
	Phase  string
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed with HTTP status %d", e.Phase, e.Status)
	}
	return fmt.Sprintf("%s failed with HTTP status %d: %s", e.Phase, e.Status, e.Body)
}

// Unauthorized reports whether the server rejected the credentials or token
func (e *AuthError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsAuthError reports whether err carries an AuthError for the given phase.
// An empty phase matches any phase.
func IsAuthError(err error, phase string) bool {
	var ae *AuthError
	if !errors.As(err, &ae) {
		return false
	}
	return phase == "" || ae.Phase == phase
}
