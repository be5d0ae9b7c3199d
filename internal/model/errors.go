package model

import "errors"

var (
	// ErrValidation marks malformed input rejected before reaching storage.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a duplicate vote insert; callers retry as an update.
	ErrConflict = errors.New("vote conflict")
	// ErrStorage marks an unavailable or failing store. Retryable.
	ErrStorage = errors.New("storage unavailable")
	// ErrPublish marks an event bus failure after the vote was committed.
	ErrPublish = errors.New("event publish failed")
	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")
)
