package eventlog

import (
	"fmt"

	"dealership_crm_backend/platform/apperr"
)

const (
	CodeInvalidEvent           = "invalid_event"
	CodeConcurrentModification = "concurrent_modification"
)

var (
	// ErrInvalidEvent matches every malformed append with errors.Is.
	ErrInvalidEvent = apperr.Validation("invalid event").WithCode(CodeInvalidEvent)
	// ErrConcurrentModification matches every optimistic-lock conflict with errors.Is.
	ErrConcurrentModification = apperr.Conflict("stream was modified concurrently").WithCode(CodeConcurrentModification)
)

// InvalidEvent builds an InvalidEventError with a specific message.
func InvalidEvent(message string) *apperr.Error {
	return ErrInvalidEvent.WithMessage(message)
}

// ConcurrentModification builds a ConcurrentModificationError naming both versions.
func ConcurrentModification(subjectType SubjectType, expected, actual int) *apperr.Error {
	return ErrConcurrentModification.
		WithMessage(fmt.Sprintf("%s stream is at version %d, expected %d", subjectType, actual, expected)).
		WithDetails(map[string]any{
			"rule":            "expected_version",
			"expectedVersion": expected,
			"actualVersion":   actual,
		})
}
