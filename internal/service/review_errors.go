package service

import (
	"errors"
	"strings"
)

var (
	// ErrSubmissionIDRequired indicates a review was opened without a submission.
	ErrSubmissionIDRequired = errors.New("submission id is required")
	// ErrSessionNotFound indicates the session does not exist or belongs to someone else.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed indicates the session was torn down; late results are discarded.
	ErrSessionClosed = errors.New("session closed")
	// ErrActionUnavailable indicates the requested action is not offered in the current state.
	ErrActionUnavailable = errors.New("action not available")
	// ErrGradeNotFound indicates the grade id is not part of the loaded submission.
	ErrGradeNotFound = errors.New("grade not found")
	// ErrGradeFinal indicates the grade is final and cannot be overridden.
	ErrGradeFinal = errors.New("grade is final")
	// ErrOverrideInFlight indicates an override for the same grade is still outstanding.
	ErrOverrideInFlight = errors.New("override already in progress")
	// ErrTriggerInFlight indicates a grading trigger request is still outstanding.
	ErrTriggerInFlight = errors.New("grading trigger already in progress")
	// ErrOverrideScoreRequired indicates the override has no staged score.
	ErrOverrideScoreRequired = errors.New("override score required")
	// ErrOverrideReasonRequired indicates the override reason is blank.
	ErrOverrideReasonRequired = errors.New("override reason required")
)

// ValidationError is a locally detected input problem. Message is shown to
// the reviewer as is and no network call was made.
type ValidationError struct {
	Err     error
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(err error, message string) *ValidationError {
	return &ValidationError{Err: err, Message: message}
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}

// Actor identifies the authenticated reviewer driving a session.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) normalizedID() string {
	return strings.TrimSpace(a.ID)
}
