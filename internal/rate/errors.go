package rate

import "errors"

var (
	// ErrRateLimited is returned once a key exceeds its budget for the
	// current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrStoreUnavailable wraps counter backend failures. Callers deny.
	ErrStoreUnavailable = errors.New("rate limit store unavailable")
)
