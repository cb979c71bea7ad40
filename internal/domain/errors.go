package domain

import "errors"

// ErrorKind classifies failures for logging and run statistics.
type ErrorKind string

const (
	ErrorKindTransientNetwork  ErrorKind = "transient_network"
	ErrorKindRateLimited       ErrorKind = "rate_limited"
	ErrorKindNotFound          ErrorKind = "not_found"
	ErrorKindMalformedResponse ErrorKind = "malformed_response"
	ErrorKindValidation        ErrorKind = "validation_failure"
	ErrorKindExhaustedRetries  ErrorKind = "exhausted_retries"
	ErrorKindFatalAuth         ErrorKind = "fatal_auth"
)

var (
	// ErrFatalAuth aborts a run: the remote service rejected our credentials.
	ErrFatalAuth = errors.New("remote service rejected credentials")

	// ErrChunkTooLarge is returned when a fetch chunk exceeds the configured chunk size.
	ErrChunkTooLarge = errors.New("fetch chunk exceeds chunk size")

	// ErrPayloadNotFound is returned by payload stores for an unknown payload_ref.
	ErrPayloadNotFound = errors.New("payload not found")

	// ErrInvalidPolicy is returned when a refresh policy fails validation.
	ErrInvalidPolicy = errors.New("invalid refresh policy")

	// ErrValidation marks a payload that parsed but failed catalog validation.
	ErrValidation = errors.New("payload validation failed")

	// ErrJobRunning is returned when a job of the same kind is already in progress.
	ErrJobRunning = errors.New("job already running")
)
