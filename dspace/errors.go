package dspace

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the repository answers 404 for an item lookup.
var ErrNotFound = errors.New("dspace: not found")

// AuthError reports rejected credentials or an unauthenticated session.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dspace auth: %s: %v", e.Reason, e.Err)
	}
	return "dspace auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError is returned once the retry budget for a GET is exhausted, or when
// the response cannot be decoded.
type FetchError struct {
	Op       string
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("dspace %s %s (attempts=%d): %v", e.Op, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
