package apiclient

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is returned after both the access token and the
// refresh token have been rejected; the session has been torn down and
// the user must re-authenticate.
var ErrSessionExpired = errors.New("session expired")

// StatusError carries a non-2xx backend response to the caller unmodified.
// The secure request client never interprets business errors.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Status)
}

// AsStatusError unwraps err to a *StatusError if one is in the chain.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// StatusOf returns the HTTP status carried by err, or 0 when err is not a
// backend status error (e.g. a transport failure).
func StatusOf(err error) int {
	if se, ok := AsStatusError(err); ok {
		return se.Status
	}
	return 0
}
