// Package common defines shared constants and sentinel errors used across
// the sync core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Validation errors are raised before any write and are never retried.
	ErrValidation = errors.New("validation error")

	// Session / remote access errors.
	ErrUnauthorized  = errors.New("unauthorized")
	ErrQuotaExceeded = errors.New("quota exceeded")

	// Transfer errors.
	ErrRetryLimit     = errors.New("retry limit exceeded")
	ErrObjectNotFound = errors.New("object not found")
	ErrCanceled       = errors.New("transfer canceled")

	// Remote batch errors.
	ErrBatchTooLarge = errors.New("batch exceeds maximum write count")
)
