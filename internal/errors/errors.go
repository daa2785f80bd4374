// Package errors provides centralized error definitions and error handling utilities
// for the hostbind runtime. It defines the sentinel errors of each subsystem,
// structured error types carrying diagnostic context, the fatal-error wrapper used
// for memory-safety violations, and classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures of a runtime subsystem:
//   - BorrowError: aliasing violations detected by a borrow cell
//   - ObjectError: operations on destroyed, null or misused foreign objects
//   - CastError: failed RTTI-validated downcasts
//
// Semantic errors represent common conditions:
//   - NotFoundError: class, method or object not found
//   - ValidationError: invalid input or configuration
//
// # Fatal Errors
//
// Conditions that break a memory-safety invariant are never returned to the
// caller. They are raised with [Fatal], which panics with a [*FatalError]. The
// boundary that recovers such a panic (a test, the scenario runner, the CLI)
// uses [AsFatal] to inspect it.
//
//	defer func() {
//	    if fe, ok := errors.AsFatal(recover()); ok {
//	        log.Error("fatal runtime error", "error", fe)
//	    }
//	}()
//
// # Usage
//
//	err := errors.NewBorrowError("bind_mut", errors.ErrBorrowConflict).
//	    WithTypeName("Player").
//	    WithHeld("shared")
//
//	if errors.Is(err, errors.ErrBorrowConflict) { ... }
//
//	var borrowErr *errors.BorrowError
//	if errors.As(err, &borrowErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors after which the process must not continue.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Borrow-related sentinel errors
var (
	// ErrBorrowConflict indicates a shared/exclusive access conflict on a payload.
	ErrBorrowConflict = New("borrow conflict")
	// ErrCrossThread indicates access to a single-threaded cell from a foreign thread.
	ErrCrossThread = New("cross-thread access to single-threaded cell")
	// ErrPoisoned indicates that the borrow state broke an internal invariant.
	ErrPoisoned = New("borrow state is poisoned")
	// ErrSuspended indicates use of an exclusive guard while it is made inaccessible.
	ErrSuspended = New("guard is suspended")
	// ErrBoundByCaller indicates that the calling thread still holds a borrow.
	ErrBoundByCaller = New("calling thread still holds a borrow")
	// ErrGuardReleased indicates that a guard was released twice or used after release.
	ErrGuardReleased = New("guard already released")
)

// Object-related sentinel errors
var (
	// ErrDestroyedObject indicates an operation on a foreign object that no longer exists.
	ErrDestroyedObject = New("object has been destroyed")
	// ErrNullObject indicates a null object pointer or zero instance ID.
	ErrNullObject = New("null object")
	// ErrRefCountedFree indicates Free() on a reference-counted object.
	ErrRefCountedFree = New("free() is only supported for manually managed objects")
	// ErrDestroyedWhileBound indicates destruction while a bind()/bind_mut() guard is alive.
	ErrDestroyedWhileBound = New("object destroyed while a bind() or bind_mut() guard is active")
	// ErrHandleReleased indicates use of a handle after Drop() or a consuming cast.
	ErrHandleReleased = New("handle already released")
	// ErrNotExtensionClass indicates bind()/bind_mut() on an engine class without storage.
	ErrNotExtensionClass = New("class has no bound payload")
	// ErrNotConstructed indicates base access before object construction completed.
	ErrNotConstructed = New("object construction has not completed")
)

// Type-related sentinel errors
var (
	// ErrTypeMismatch indicates that an object's dynamic class is not the requested class.
	ErrTypeMismatch = New("type mismatch")
)

// Runtime-related sentinel errors
var (
	// ErrNotInstalled indicates use of the process-wide runtime before Install().
	ErrNotInstalled = New("runtime not installed")
	// ErrClassNotRegistered indicates an unknown extension class.
	ErrClassNotRegistered = New("class not registered")
	// ErrUnknownMethod indicates a virtual call to a method the class does not define.
	ErrUnknownMethod = New("unknown method")
)

// General sentinel errors
var (
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// BindError is the base interface for all hostbind errors.
type BindError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity
}

// baseError provides common functionality for all error types.
type baseError struct {
	message  string
	cause    error
	severity Severity
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// formatPrefixed renders "<kind> [k=v, ...]: message: cause".
func formatPrefixed(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// BorrowError represents an aliasing violation detected by a borrow cell.
//
// Example:
//
//	err := errors.NewBorrowError("bind_mut", errors.ErrBorrowConflict).
//	    WithTypeName("Player").WithHeld("exclusive")
//	fmt.Println(err) // "borrow error [type=Player, requested=bind_mut, held=exclusive]: ..."
type BorrowError struct {
	baseError
	TypeName  string
	Requested string
	Held      string
	Thread    uint64
}

// NewBorrowError creates a new BorrowError for the requested access kind.
func NewBorrowError(requested string, cause error) *BorrowError {
	return &BorrowError{
		baseError: baseError{
			message:  fmt.Sprintf("%s failed", requested),
			cause:    cause,
			severity: SeverityCritical,
		},
		Requested: requested,
	}
}

// WithTypeName adds the payload type name to the error context.
func (e *BorrowError) WithTypeName(name string) *BorrowError {
	e.TypeName = name
	return e
}

// WithHeld records the access kind that was already held.
func (e *BorrowError) WithHeld(held string) *BorrowError {
	e.Held = held
	return e
}

// WithThread records the requesting thread.
func (e *BorrowError) WithThread(thread uint64) *BorrowError {
	e.Thread = thread
	return e
}

// WithMessage replaces the human-readable message.
func (e *BorrowError) WithMessage(msg string) *BorrowError {
	e.message = msg
	return e
}

// Error returns the formatted error message.
func (e *BorrowError) Error() string {
	var parts []string
	if e.TypeName != "" {
		parts = append(parts, fmt.Sprintf("type=%s", e.TypeName))
	}
	if e.Requested != "" {
		parts = append(parts, fmt.Sprintf("requested=%s", e.Requested))
	}
	if e.Held != "" {
		parts = append(parts, fmt.Sprintf("held=%s", e.Held))
	}
	if e.Thread != 0 {
		parts = append(parts, fmt.Sprintf("thread=%d", e.Thread))
	}
	return formatPrefixed("borrow error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *BorrowError) Is(target error) bool {
	if _, ok := target.(*BorrowError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ObjectError represents a failed operation on a foreign object.
//
// Example:
//
//	err := errors.NewObjectError("bind", errors.ErrDestroyedObject).
//	    WithInstanceID("9223372036854775809").WithClass("Counter")
type ObjectError struct {
	baseError
	Operation  string
	InstanceID string
	Class      string
}

// NewObjectError creates a new ObjectError for the given operation.
func NewObjectError(operation string, cause error) *ObjectError {
	return &ObjectError{
		baseError: baseError{
			message:  fmt.Sprintf("%s failed", operation),
			cause:    cause,
			severity: SeverityError,
		},
		Operation: operation,
	}
}

// WithInstanceID adds the instance ID to the error context.
func (e *ObjectError) WithInstanceID(id string) *ObjectError {
	e.InstanceID = id
	return e
}

// WithClass adds the class name to the error context.
func (e *ObjectError) WithClass(class string) *ObjectError {
	e.Class = class
	return e
}

// WithSeverity sets the error severity.
func (e *ObjectError) WithSeverity(s Severity) *ObjectError {
	e.severity = s
	return e
}

// Error returns the formatted error message.
func (e *ObjectError) Error() string {
	var parts []string
	if e.Class != "" {
		parts = append(parts, fmt.Sprintf("class=%s", e.Class))
	}
	if e.InstanceID != "" {
		parts = append(parts, fmt.Sprintf("instance=%s", e.InstanceID))
	}
	return formatPrefixed("object error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ObjectError) Is(target error) bool {
	if _, ok := target.(*ObjectError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// CastError represents a failed downcast.
//
// Example:
//
//	err := errors.NewCastError("Node", "Player").WithInstanceID("42")
//	fmt.Println(err) // "cast error [from=Node, to=Player, instance=42]: type mismatch"
type CastError struct {
	baseError
	From       string
	To         string
	Dynamic    string
	InstanceID string
}

// NewCastError creates a new CastError. Its cause is always ErrTypeMismatch.
func NewCastError(from, to string) *CastError {
	return &CastError{
		baseError: baseError{
			message:  fmt.Sprintf("cannot cast %s to %s", from, to),
			cause:    ErrTypeMismatch,
			severity: SeverityWarning,
		},
		From: from,
		To:   to,
	}
}

// WithInstanceID adds the instance ID to the error context.
func (e *CastError) WithInstanceID(id string) *CastError {
	e.InstanceID = id
	return e
}

// WithDynamic records the object's actual dynamic class.
func (e *CastError) WithDynamic(class string) *CastError {
	e.Dynamic = class
	return e
}

// Error returns the formatted error message.
func (e *CastError) Error() string {
	parts := []string{fmt.Sprintf("from=%s", e.From), fmt.Sprintf("to=%s", e.To)}
	if e.Dynamic != "" && e.Dynamic != e.From {
		parts = append(parts, fmt.Sprintf("dynamic=%s", e.Dynamic))
	}
	if e.InstanceID != "" {
		parts = append(parts, fmt.Sprintf("instance=%s", e.InstanceID))
	}
	return formatPrefixed("cast error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *CastError) Is(target error) bool {
	if _, ok := target.(*CastError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("class", "Player")
//	fmt.Println(err) // "class 'Player' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("unknown borrow policy").
//	    WithField("cell.policy").WithValue("optimistic")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatPrefixed("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Fatal Errors
// -----------------------------------------------------------------------------

// FatalError is the panic value used for broken memory-safety invariants.
// It is never returned from a function; it is raised with Fatal.
type FatalError struct {
	Err error
}

// Error returns the message of the wrapped error.
func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal panics with a *FatalError wrapping err.
func Fatal(err error) {
	panic(&FatalError{Err: err})
}

// AsFatal converts a recovered panic value into a *FatalError.
// It returns false for nil and for panics that did not originate from Fatal.
func AsFatal(recovered any) (*FatalError, bool) {
	if recovered == nil {
		return nil, false
	}
	fe, ok := recovered.(*FatalError)
	return fe, ok
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsFatal returns true if err is, or wraps, a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return As(err, &fe)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityCritical for fatal errors and SeverityError for errors that
// don't implement BindError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	if IsFatal(err) {
		return SeverityCritical
	}
	var bindErr BindError
	if As(err, &bindErr) {
		return bindErr.Severity()
	}
	return SeverityError
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
