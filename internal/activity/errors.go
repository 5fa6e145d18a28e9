package activity

import "errors"

var (
	// ErrInvalidIP rejects malformed addresses before any state is touched.
	ErrInvalidIP = errors.New("activity: invalid IP address")

	// ErrStoreUnavailable marks a persistence failure; the admission
	// decision attached to it follows the configured fail-open or
	// fail-closed policy.
	ErrStoreUnavailable = errors.New("activity: store unavailable")

	// ErrBlocked is the access-denied condition for a blocked IP.
	ErrBlocked = errors.New("activity: ip is blocked")

	// ErrRateLimited is the admission-denied condition; retry after the
	// window resets.
	ErrRateLimited = errors.New("activity: rate limit exceeded")
)
