package transport

import (
	"fmt"
	"net/http"

	"slidehub/pkg/platform/sentinel"
)

// StatusError is a non-2xx answer from the server. It matches the sentinel
// values via errors.Is so callers can branch without inspecting the code.
type StatusError struct {
	Method string
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
}

func (e *StatusError) Is(target error) bool {
	switch target {
	case sentinel.ErrNotFound:
		return e.Status == http.StatusNotFound
	case sentinel.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case sentinel.ErrUnavailable:
		return e.Status >= http.StatusInternalServerError
	}
	return false
}
