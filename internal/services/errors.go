// Package services holds the application logic between the HTTP layer and
// the storage tiers. This file defines the service-level error values that
// handlers translate into HTTP responses.
package services

import "errors"

var (
	// ErrInvalidIdentity is returned when a phone is missing or malformed. It
	// is raised before any store is touched.
	ErrInvalidIdentity = errors.New("invalid identity: phone must be a mainland mobile number")

	// ErrWriteFailed wraps the final durable error of a write whose retries
	// were exhausted. The cache never holds data from a failed write.
	ErrWriteFailed = errors.New("durable write failed")
)
