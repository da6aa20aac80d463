package errs

import "errors"

// Sentinel errors for the escalation engine. Handlers and the engine
// match these with errors.Is; none of them is used for flow control
// outside its documented recovery path.
var (
	// ErrValidationFailed - user input malformed, re-prompt.
	ErrValidationFailed = errors.New("validation failed")

	// ErrAlreadyQueued - session already has a queue entry.
	ErrAlreadyQueued = errors.New("session already queued")

	// ErrAlreadyExists - session already has an open ticket.
	ErrAlreadyExists = errors.New("ticket already exists")

	// ErrRaceLost - assignment or queue race detected, silently retried.
	ErrRaceLost = errors.New("assignment race lost")

	// ErrTemplateNotFound - template key unknown or inactive.
	ErrTemplateNotFound = errors.New("template not found")

	// ErrStorageUnavailable - transient storage failure after retries.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidTransition - programming-level invariant violation,
	// fatal to the single event only.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionNotFound - no session record for the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrVersionConflict - compare-and-swap save lost against a
	// concurrent writer.
	ErrVersionConflict = errors.New("session version conflict")

	// ErrTokenNotFound - resume token unknown or expired.
	ErrTokenNotFound = errors.New("resume token not found")
)
