package performance

import (
	"fmt"
	"net/http"
)

// APIError is returned when the performance endpoint answers with a non-200 status
type APIError struct {
	URL    string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request %s failed with HTTP status %d: %s", e.URL, e.Status, e.Body)
}

// Unauthorized reports whether the held token was rejected. The session is
// discarded in that case and the caller has to Refresh.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// ValidationError reports query parameters that break the query policy
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
