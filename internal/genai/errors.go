package genai

import "errors"

var (
	// ErrModelUnavailable marks transient failures (rate limits, server
	// errors, timeouts). The gateway falls through to the next tier.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrModelRejected marks permanent failures (malformed request, safety
	// block). Falling back to another tier would fail the same way, so the
	// gateway aborts immediately.
	ErrModelRejected = errors.New("model rejected request")

	// ErrAllModelsFailed is returned when every configured tier failed with
	// a transient error.
	ErrAllModelsFailed = errors.New("all model tiers failed")

	// ErrStagingFailed is returned when the remote file service reports a
	// terminal failure for an uploaded file.
	ErrStagingFailed = errors.New("file staging failed")

	// ErrStagingTimeout is returned when an uploaded file does not become
	// ready within the staging deadline.
	ErrStagingTimeout = errors.New("file staging timed out")
)

// IsRetryable reports whether err is worth retrying against another tier.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrModelUnavailable)
}
