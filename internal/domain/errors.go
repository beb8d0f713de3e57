package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by the app layer wraps exactly one of these.
var (
	ErrValidation           = errors.New("validation failed")
	ErrUnauthorized         = errors.New("not allowed")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInsufficientResource = errors.New("insufficient resource")
	ErrUnavailable          = errors.New("temporarily unavailable")
	ErrInternal             = errors.New("internal error")
)

var (
	// ErrJobNotFound is returned for an unknown job id.
	ErrJobNotFound = newError(ErrNotFound, "job not found")
	// ErrPoolNotFound is returned for an unknown pool id.
	ErrPoolNotFound = newError(ErrNotFound, "question pool not found")
	// ErrItemNotFound is returned when a fetched item id does not exist.
	ErrItemNotFound = newError(ErrNotFound, "question not found")
	// ErrSessionNotFound is returned for an unknown session token.
	ErrSessionNotFound = newError(ErrNotFound, "test session not found")
	// ErrAssignmentNotFound is returned when a participant submits without joining first.
	ErrAssignmentNotFound = newError(ErrNotFound, "no assignment for participant; join the test first")
	// ErrSubmissionNotFound is returned when no submission exists for a pair.
	ErrSubmissionNotFound = newError(ErrNotFound, "submission not found")

	ErrJobAccessDenied     = newError(ErrUnauthorized, "job belongs to another owner")
	ErrPoolAccessDenied    = newError(ErrUnauthorized, "question pool belongs to another owner")
	ErrSessionAccessDenied = newError(ErrUnauthorized, "test session belongs to another owner")

	// ErrAlreadySubmitted guards the one-submission-per-participant rule.
	ErrAlreadySubmitted = newError(ErrConflict, "answers already submitted for this test")
	// ErrJobStateConflict is returned by stores when a compare-and-set transition loses.
	ErrJobStateConflict = newError(ErrConflict, "job is not in the expected state")
	// ErrSessionExists is returned when a generated token collides.
	ErrSessionExists = newError(ErrConflict, "test session token already in use")

	// ErrStatusStreamUnavailable is returned when push delivery of job status cannot be set up.
	ErrStatusStreamUnavailable = newError(ErrUnavailable, "job status stream unavailable, poll the job instead")
)

// Error is a specific failure tagged with one of the error kinds.
type Error struct {
	kind    error
	message string
}

func newError(kind error, message string) *Error {
	return &Error{kind: kind, message: message}
}

func (e *Error) Error() string { return e.message }

func (e *Error) Unwrap() error { return e.kind }

// FieldError is a single rejected input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors lists every rejected field of a request.
type ValidationErrors []FieldError

func (ve ValidationErrors) Error() string {
	switch len(ve) {
	case 0:
		return ErrValidation.Error()
	case 1:
		return fmt.Sprintf("%s: %s %s", ErrValidation, ve[0].Field, ve[0].Message)
	}
	parts := make([]string, 0, len(ve))
	for _, fe := range ve {
		parts = append(parts, fe.Field+" "+fe.Message)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (ve ValidationErrors) Unwrap() error { return ErrValidation }

// NewValidationError builds a single-field validation failure.
func NewValidationError(field, message string) ValidationErrors {
	return ValidationErrors{{Field: field, Message: message}}
}

// ShortfallError reports that a pool cannot satisfy a requested count.
type ShortfallError struct {
	Kind      QuestionKind
	Desired   int
	Available int
}

func (e *ShortfallError) Error() string {
	if e.Desired < 1 {
		return fmt.Sprintf("%s: at least 1 %s question is required, %d requested", ErrInsufficientResource, e.Kind, e.Desired)
	}
	return fmt.Sprintf("%s: %d %s questions requested but only %d valid available", ErrInsufficientResource, e.Desired, e.Kind, e.Available)
}

func (e *ShortfallError) Unwrap() error { return ErrInsufficientResource }
