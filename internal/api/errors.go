package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a non-2xx response from the backend. Sends surface it to the
// caller as a user-visible message; reads treat it like any other failure
// and keep whatever cached data is already displayed.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: server returned %d", e.StatusCode)
}

// IsAuthFailure reports whether err is a 401 from the backend. Token
// refresh is owned by the caller's auth layer, not by this package.
func IsAuthFailure(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsRejection reports whether err is a non-auth 4xx the server rejected
// with. These carry a message meant for the user and are never retried.
func IsRejection(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
		apiErr.StatusCode != http.StatusUnauthorized
}

// IsNetworkFailure reports whether err means the request never completed:
// anything that is not a decoded server response.
func IsNetworkFailure(err error) bool {
	var apiErr *Error
	return err != nil && !errors.As(err, &apiErr)
}
