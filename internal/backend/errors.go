package backend

import (
	"fmt"
	"net/http"

	"github.com/starford/albumshare/internal/apperr"
)

// StatusError is returned for non-2xx collaborator responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend: %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("backend: %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Unwrap maps the status onto the error taxonomy.
func (e *StatusError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.ErrUnauthenticated
	case http.StatusNotFound:
		return apperr.ErrNotFound
	default:
		return apperr.ErrTransport
	}
}
