package transform

import (
	"errors"
	"fmt"
)

var (
	ErrNoCollection = errors.New("item has no parent collection")
	ErrNoCommunity  = errors.New("item has an empty parent community list")
	ErrBadDate      = errors.New("bad date")
	ErrPolicies     = errors.New("policy lookup failed")
)

// TransformError is a per-item failure. The batch skips the item unless it runs strict.
type TransformError struct {
	UUID string
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform item %s: %v", e.UUID, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// IsTransformError reports whether err carries a *TransformError.
func IsTransformError(err error) bool {
	var te *TransformError
	return errors.As(err, &te)
}
