package truelayer

import (
	"fmt"
	"net/http"
)

// UpstreamError is returned for any non-2xx provider response. It keeps
// the upstream status and (truncated) body so callers can surface them.
type UpstreamError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("truelayer: %s: upstream status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// Unauthorized reports whether the provider rejected the credentials.
func (e *UpstreamError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
