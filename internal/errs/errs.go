// Package errs defines the typed error taxonomy shared by the ledger,
// achievement and installment components.
//
// Every error surfaced to a caller is either an *Error with one of the
// kinds below, or an untyped error that callers treat as transient
// infrastructure failure.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind categorizes an error for the caller.
type Kind string

const (
	// KindValidation marks malformed input. Never retried.
	KindValidation Kind = "validation"

	// KindConflict marks a uniqueness violation (duplicate plan, duplicate
	// achievement key that could not be resolved by re-reading).
	KindConflict Kind = "conflict"

	// KindState marks an operation that is illegal for the current state
	// of the target (frozen plan, wrong actor, invalid transition).
	KindState Kind = "state"

	// KindNotFound marks a missing plan, payment, goal or ledger entry.
	KindNotFound Kind = "not_found"

	// KindInfra marks a transient infrastructure failure (database,
	// upstream, checkpoint backend). Retried on the next tick.
	KindInfra Kind = "transient_infra"
)

// Error is the typed error carried across package boundaries.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind

	// Code is a stable machine-readable identifier, e.g. "plan_not_active".
	Code string

	// Message is a human-readable description.
	Message string

	// Details contains additional context.
	Details map[string]string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%s", k, e.Details[k])
		}
		b.WriteString(")")
	}
	// Infra copies the cause into Message; print it once.
	if e.Err != nil && e.Err.Error() != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// With returns the error with an additional detail set.
func (e *Error) With(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Validation creates a validation error.
func Validation(code, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a conflict error.
func Conflict(code, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: fmt.Sprintf(format, args...)}
}

// State creates a state error.
func State(code, format string, args ...any) *Error {
	return &Error{Kind: KindState, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(code, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Infra wraps err as a transient infrastructure error.
func Infra(code string, err error) *Error {
	msg := "infrastructure failure"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: KindInfra, Code: code, Message: msg, Err: err}
}

// KindOf reports the kind of err. Untyped non-nil errors are KindInfra.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfra
}

// CodeOf reports the stable code of err, or "internal" for untyped errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal"
}

// IsValidation returns true if err is a validation error.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool { return is(err, KindValidation) }

// IsConflict returns true if err is a conflict error.
func IsConflict(err error) bool { return is(err, KindConflict) }

// IsState returns true if err is a state error.
func IsState(err error) bool { return is(err, KindState) }

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsInfra returns true if err is an explicit transient infrastructure error.
func IsInfra(err error) bool { return is(err, KindInfra) }

func is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// HTTPStatus maps err to the status an API layer should return.
// State errors caused by an actor mismatch map to 422, other state
// errors to 409.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindState:
		if e.Code == CodeNotClosingSeller || e.Code == CodeForbiddenRole {
			return http.StatusUnprocessableEntity
		}
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindInfra:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Stable codes used across packages.
const (
	CodeInvalidInput        = "invalid_input"
	CodeNonSequentialNumber = "non_sequential_payment_numbers"
	CodeDuplicatePlan       = "duplicate_plan"
	CodeDuplicateKey        = "duplicate_dedupe_key"
	CodeUniqueViolation     = "unique_violation"
	CodePlanNotActive       = "plan_not_active"
	CodeInvalidTransition   = "invalid_transition"
	CodeNotClosingSeller    = "not_closing_seller"
	CodeForbiddenRole       = "forbidden_role"
	CodePlanNotFound        = "plan_not_found"
	CodePaymentNotFound     = "payment_not_found"
	CodeLedgerNotFound      = "ledger_entry_not_found"
	CodeGoalNotFound        = "goal_not_found"
	CodeStorage             = "storage"
	CodeUpstream            = "upstream"
	CodeCheckpoint          = "checkpoint"
	CodeConfig              = "invalid_config"
)
