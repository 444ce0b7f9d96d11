// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable; clients branch on them instead of
// on messages. Generic codes mirror HTTP status semantics, the storage codes
// describe how a request against the two storage tiers ended.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_identity",
//	  "message": "phone must be a mainland mobile number"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"

	// Storage:
	ErrCodeInvalidIdentity  = "invalid_identity"
	ErrCodeValidationFailed = "validation_failed"
	ErrCodeWriteFailed      = "write_failed"
	ErrCodeUnavailable      = "unavailable"
)
