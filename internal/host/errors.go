package host

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrMissingPermission is matched by host errors caused by a token that lacks the required scope.
	ErrMissingPermission = errors.New("missing permission")
	// ErrUnauthorized is matched by host errors caused by a missing or invalid token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is matched by host errors for unknown resources.
	ErrNotFound = errors.New("not found")
)

// APIError is returned when the host answers with an error status
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: host returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: host returned %d: %s", e.Op, e.StatusCode, body)
}

// Is lets callers match an APIError against the package sentinels with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrMissingPermission:
		if e.StatusCode == http.StatusForbidden {
			return true
		}
		body := strings.ToLower(e.Body)
		return strings.Contains(body, "missing scope") || strings.Contains(body, "missing permission")
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}
