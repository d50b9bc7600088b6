package analysis

import "errors"

// Sentinel errors for analysis operations. Handlers map these to HTTP
// status codes.
var (
	ErrValidation         = errors.New("invalid analysis request")
	ErrForbidden          = errors.New("job belongs to another user")
	ErrInvalidState       = errors.New("job is not in a retryable state")
	ErrRetryLimitExceeded = errors.New("job retry limit exceeded")
)
