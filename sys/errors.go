package sys

import "errors"

var (
	// Lookup yielded nothing. Recoverable: the caller skips.
	ErrNotFound = errors.New("not found")
	// A required external binary is missing.
	ErrToolUnavailable = errors.New("tool unavailable")
	// The voice transport could not join.
	ErrConnectionFailed = errors.New("connection failed")
	// Malformed persisted or pasted JSON.
	ErrParse = errors.New("parse error")
	// Transport control used before anything was played.
	ErrNotInitialized = errors.New("not initialized")

	ErrNotPlaying         = errors.New("not playing")
	ErrStreamActive       = errors.New("stream already active")
	ErrMissingCredentials = errors.New("missing credentials")
	ErrProvider           = errors.New("provider request failed")
)
