package engine

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a user, upload or challenge does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError rejects malformed or disallowed input. Reason is safe to
// show to the caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ConflictError rejects a request because the date is already claimed.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func conflict(reason string) error {
	return &ConflictError{Reason: reason}
}

// Reasons surfaced to clients. Some are matched verbatim by existing clients.
const (
	ReasonRestDayUsed     = "Rest day already used for this date"
	ReasonUploadExists    = "Upload already exists for this date"
	ReasonNoRestDaysLeft  = "No rest days left in this challenge"
	ReasonFutureDate      = "Date cannot be in the future"
	ReasonPhotoRequired   = "Photo is required"
	ReasonPhotoReused     = "This photo was already submitted"
	ReasonWrongChallenge  = "Challenge does not cover this date"
	ReasonInvalidDate     = "Invalid date; expected YYYY-MM-DD"
	ReasonDateTooOld      = "Date is too far in the past"
	ReasonNegativeBalance = "Trophies cannot be negative"
)
