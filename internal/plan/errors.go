package plan

import "errors"

// Sentinel errors for plan operations. Handlers map these to HTTP status
// codes.
var (
	ErrValidation      = errors.New("invalid plan request")
	ErrForbidden       = errors.New("plan belongs to another user")
	ErrJobNotCompleted = errors.New("analysis job is not completed")
)
