package models

import "errors"

// Error kinds shared by the store, ingest, stats and access packages.
// Callers match them with errors.Is; every returned error wraps one of these.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflictRetryable  = errors.New("conflicting write, retry")
	ErrTransientFailure   = errors.New("transient failure")
	ErrTenantMismatch     = errors.New("tenant mismatch")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrTypeInvariant      = errors.New("attribute type invariant violated")
	ErrNotFound           = errors.New("not found")
)
