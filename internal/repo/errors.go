// Package repo implements the durable tier for applicant profiles and chat
// transcripts, backed by GORM. This file defines the error taxonomy shared by
// every durable store implementation and the input validation applied before
// any write reaches a database.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"github.com/AppIeBanana/ZhaoSheng/internal/domain"
	"github.com/AppIeBanana/ZhaoSheng/internal/identity"
)

var (
	// ErrNotFound is returned when no record exists for a phone. It aliases
	// gorm.ErrRecordNotFound so callers may match either.
	ErrNotFound = gorm.ErrRecordNotFound

	// ErrNotConnected is returned when the underlying connection is not ready.
	// Operations fail fast with it instead of waiting on a dead handle.
	ErrNotConnected = errors.New("durable store not connected")

	// ErrTimeout is returned when an operation exceeded its deadline.
	ErrTimeout = errors.New("durable store timeout")

	// ErrValidationFailed is returned when a record is rejected before or by
	// the store schema. It is never worth retrying.
	ErrValidationFailed = errors.New("durable store validation failed")
)

// Classify maps driver errors onto the store taxonomy. Errors that already
// match a sentinel are returned unchanged; unknown errors pass through.
func Classify(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrTimeout), errors.Is(err, ErrValidationFailed):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, sql.ErrConnDone), strings.Contains(strings.ToLower(err.Error()), "database is closed"):
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	case isConstraint(err):
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	return err
}

// isConstraint detects schema rejections across drivers that may not map to
// gorm.ErrCheckConstraintViolated.
func isConstraint(err error) bool {
	if errors.Is(err, gorm.ErrCheckConstraintViolated) || errors.Is(err, gorm.ErrInvalidData) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "check constraint") || strings.Contains(msg, "not null constraint")
}

// ValidateProfile checks a profile before it is written. The phone must be a
// well-formed mobile number, extension field names usable as a single path
// segment in every backend, and the score, when present, a number >= 0.
func ValidateProfile(p *domain.Profile) error {
	if p == nil {
		return fmt.Errorf("%w: profile is nil", ErrValidationFailed)
	}
	if !identity.Valid(p.Phone) {
		return fmt.Errorf("%w: invalid phone %q", ErrValidationFailed, p.Phone)
	}
	for k := range p.Extra {
		if !validExtraKey(k) {
			return fmt.Errorf("%w: field name %q not allowed", ErrValidationFailed, k)
		}
	}
	if s := strings.TrimSpace(p.Score); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("%w: score must be a number >= 0, got %q", ErrValidationFailed, p.Score)
		}
	}
	return nil
}

// validExtraKey rejects names that a document store would read as an operator
// or a nested path, and quotes that cannot appear in a JSON path.
func validExtraKey(k string) bool {
	return k != "" && !strings.HasPrefix(k, "$") && !strings.ContainsAny(k, `."`)
}

// ValidateTranscript checks a transcript before it is written. The message
// list must be non-empty and every role must be user or assistant.
func ValidateTranscript(phone string, msgs []domain.Message) error {
	if !identity.Valid(phone) {
		return fmt.Errorf("%w: invalid phone %q", ErrValidationFailed, phone)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("%w: transcript has no messages", ErrValidationFailed)
	}
	for i, m := range msgs {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			return fmt.Errorf("%w: message %d has role %q", ErrValidationFailed, i, m.Role)
		}
	}
	return nil
}
