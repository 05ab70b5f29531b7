package scm

import (
	"errors"
	"fmt"
)

// APIError surfaces a provider REST failure with both the HTTP status and
// the provider's error body.
type APIError struct {
	Provider   Kind
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// PRNumberError is returned when a reference is neither a bare PR number
// nor a recognizable provider URL.
type PRNumberError struct {
	Provider Kind
	Ref      string
}

func (e *PRNumberError) Error() string {
	return fmt.Sprintf("cannot extract a %s pull request number from %q", e.Provider, e.Ref)
}

// IsNotFound reports whether err is a provider 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
