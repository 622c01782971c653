// Package errs defines the error kinds surfaced by the allocation engine.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a stable, machine-readable error code.
type Kind string

const (
	KindWindowClosed         Kind = "WINDOW_CLOSED"
	KindIneligible           Kind = "INELIGIBLE"
	KindDuplicateApplication Kind = "DUPLICATE_APPLICATION"
	KindInvalidState         Kind = "INVALID_STATE"
	KindCapacityExhausted    Kind = "CAPACITY_EXHAUSTED"
	KindWaitlistFull         Kind = "WAITLIST_FULL"
	KindInvalidBedState      Kind = "INVALID_BED_STATE"
	KindAlreadyExpired       Kind = "ALREADY_EXPIRED"
	KindNotFound             Kind = "NOT_FOUND"
	KindForbidden            Kind = "FORBIDDEN"
	KindValidation           Kind = "VALIDATION_ERROR"
	KindInternal             Kind = "INTERNAL"
)

// Error is a sentinel carrying its kind.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrWindowClosed         = &Error{KindWindowClosed, "window is not accepting applications"}
	ErrIneligible           = &Error{KindIneligible, "student is not eligible for this window"}
	ErrDuplicateApplication = &Error{KindDuplicateApplication, "student already has an active application in this window"}
	ErrInvalidState         = &Error{KindInvalidState, "operation not allowed in the current state"}
	ErrCapacityExhausted    = &Error{KindCapacityExhausted, "no matching bed is available"}
	ErrWaitlistFull         = &Error{KindWaitlistFull, "waitlist is full or disabled"}
	ErrInvalidBedState      = &Error{KindInvalidBedState, "bed is not in the required state"}
	ErrAlreadyExpired       = &Error{KindAlreadyExpired, "window has already expired"}
	ErrNotFound             = &Error{KindNotFound, "not found"}
	ErrForbidden            = &Error{KindForbidden, "not allowed for this caller"}
	ErrValidation           = &Error{KindValidation, "validation failed"}
)

// IneligibleError lists every failed eligibility criterion.
type IneligibleError struct {
	Reasons []string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrIneligible.Message, strings.Join(e.Reasons, ", "))
}

// Is makes errors.Is(err, ErrIneligible) hold.
func (e *IneligibleError) Is(target error) bool {
	return target == ErrIneligible
}

// Ineligible builds an IneligibleError.
func Ineligible(reasons []string) error {
	return &IneligibleError{Reasons: reasons}
}

// Validation wraps ErrValidation with a detail message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first engine error found in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var inel *IneligibleError
	if errors.As(err, &inel) {
		return KindIneligible
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Reasons returns the eligibility reasons carried by err, if any.
func Reasons(err error) []string {
	var inel *IneligibleError
	if errors.As(err, &inel) {
		return inel.Reasons
	}
	return nil
}
