package hound

import "errors"

// Programming errors, raised synchronously at construction (spec.md §7).
var (
	ErrEmptySegment   = errors.New("hound: name must not be empty")
	ErrSlashInSegment = errors.New("hound: name must not contain '/'")
	ErrNotAbsoluteURI = errors.New("hound: uri must be absolute")
)

// Operational errors, returned from Register/Unregister and the store
// adapter (spec.md §7).
var (
	// ErrStoreUnreachable is returned when a non-retrying store call
	// fails, or a retrying call exhausts its context before succeeding.
	ErrStoreUnreachable = errors.New("hound: store unreachable")

	// ErrRegistrationFailed wraps a Put failure after a successful
	// Grant; the caller's Register call fails fatally.
	ErrRegistrationFailed = errors.New("hound: registration failed")

	// ErrUnregisterFailed wraps a Revoke failure; local state is left
	// Registered so a retried Unregister is meaningful.
	ErrUnregisterFailed = errors.New("hound: unregister failed")
)
