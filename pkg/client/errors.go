package client

import "errors"

// Configuration errors are the only errors the client surfaces to callers:
// everything transient degrades to defaults with an explanatory evaluation
// reason instead.
var (
	// ErrInvalidSDKKey indicates a missing or malformed SDK key.
	ErrInvalidSDKKey = errors.New("client: invalid SDK key")

	// ErrInvalidConfiguration indicates settings that could not be parsed or
	// are out of range.
	ErrInvalidConfiguration = errors.New("client: invalid configuration")

	// ErrNotInitialized indicates an operation that requires Initialize to
	// have been called first.
	ErrNotInitialized = errors.New("client: not initialized")
)
