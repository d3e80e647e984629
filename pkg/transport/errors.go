package transport

import "errors"

// Domain errors for transport operations. Timeouts and rate limits are race
// outcomes rather than failures: callers degrade to cached or default values
// and the underlying call may still complete.
var (
	// ErrTimeout reports that the caller's timeout elapsed before the call
	// finished. The call itself keeps running in the background.
	ErrTimeout = errors.New("transport: request timed out")

	// ErrRateLimited reports that the per-URL in-flight ceiling was reached.
	ErrRateLimited = errors.New("transport: too many in-flight requests")

	// ErrRequestFailed reports a non-success response or transport failure
	// after all retries were exhausted.
	ErrRequestFailed = errors.New("transport: request failed")

	// ErrMalformedResponse reports a response body that could not be decoded.
	ErrMalformedResponse = errors.New("transport: malformed response")
)
