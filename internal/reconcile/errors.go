package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrSingletonViolation is returned when a singleton collection's desired
	// state holds more than one record.
	ErrSingletonViolation = errors.New("singleton collection holds more than one record")

	// ErrUnresolvedReference is returned in strict mode when a reference
	// field still holds a placeholder identity at sync time.
	ErrUnresolvedReference = errors.New("reference still holds a placeholder identity")

	// ErrAmbiguousPlaceholder is returned when two records of a referenced
	// collection share a placeholder identity.
	ErrAmbiguousPlaceholder = errors.New("placeholder identity used by more than one record")
)

// ErrorCode categorizes pass failures.
type ErrorCode string

const (
	// CodeInvalidRequest indicates the request was rejected before any write.
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"

	// CodeSingletonViolation indicates a singleton collection got more than
	// one desired record. Detected before any write.
	CodeSingletonViolation ErrorCode = "SINGLETON_VIOLATION"

	// CodeUnresolvedReference indicates a placeholder reference survived
	// rewriting (strict mode only).
	CodeUnresolvedReference ErrorCode = "UNRESOLVED_REFERENCE"

	// CodeLockFailed indicates the concurrency guard could not be acquired.
	CodeLockFailed ErrorCode = "LOCK_FAILED"

	// CodePersistence indicates a persistence callback failed.
	CodePersistence ErrorCode = "PERSISTENCE_FAILED"

	// CodeAudit indicates the change log write failed.
	CodeAudit ErrorCode = "AUDIT_FAILED"
)

// PassError reports the first failure of a reconciliation pass.
type PassError struct {
	Code       ErrorCode
	PassID     string
	Collection string // empty when the failure is not tied to one collection
	Err        error
}

// Error implements the error interface.
func (e *PassError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("%s: pass %s: collection %s: %v", e.Code, e.PassID, e.Collection, e.Err)
	}
	return fmt.Sprintf("%s: pass %s: %v", e.Code, e.PassID, e.Err)
}

// Unwrap returns the underlying error.
func (e *PassError) Unwrap() error {
	return e.Err
}

// IsSingletonError returns true if the error is a singleton violation.
// Uses errors.As to handle wrapped errors.
func IsSingletonError(err error) bool {
	return hasCode(err, CodeSingletonViolation)
}

// IsUnresolvedReference returns true if the error is an unresolved
// placeholder reference.
func IsUnresolvedReference(err error) bool {
	return hasCode(err, CodeUnresolvedReference)
}

// IsPersistenceError returns true if a persistence callback failed.
func IsPersistenceError(err error) bool {
	return hasCode(err, CodePersistence)
}

func hasCode(err error, code ErrorCode) bool {
	var pe *PassError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
