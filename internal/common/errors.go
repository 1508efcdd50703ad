// Package common defines shared constants and sentinel errors used across
// the archive packages. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorUnauthorized = errors.New("unauthorized")

	// Validation errors.
	ErrorIncorrectMetadata = errors.New("incorrect metadata")
	ErrorMissingChecksum   = errors.New("missing checksum")
	ErrorInvalidURI        = errors.New("invalid archival uri")

	// Delivery token errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Lock errors.
	ErrLockNotAcquired = errors.New("lock not acquired")
)
