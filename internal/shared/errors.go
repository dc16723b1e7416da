package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Error kinds reported to API clients.
const (
	KindValidation        = "validation"
	KindNotFound          = "not_found"
	KindInsufficientStock = "insufficient_stock"
	KindConflict          = "conflict"
	KindStorage           = "storage"
	KindForbidden         = "forbidden"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrTimeout signals that a posting exceeded its deadline and was rolled back.
	ErrTimeout = errors.New("operation timed out")
	// ErrForbidden is returned when the caller lacks a required permission.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError reports malformed or semantically invalid input. Details
// maps a field path to the problem found there.
type ValidationError struct {
	Message string
	Details map[string]string
}

// NewValidationError builds a ValidationError with optional field details.
func NewValidationError(message string, details map[string]string) *ValidationError {
	return &ValidationError{Message: message, Details: details}
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (%d field errors)", e.Message, len(e.Details))
}

// InsufficientStockError is returned when a posting would drive a stock
// balance below zero.
type InsufficientStockError struct {
	Entity    string
	Available decimal.Decimal
	Requested decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %s, requested %s", e.Entity, e.Available, e.Requested)
}

// NotFoundError identifies a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConflictError covers state conflicts such as reused idempotency keys or
// posting a document that is no longer a draft.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// StorageError wraps persistence failures after retries have been exhausted.
type StorageError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return "storage: " + e.Op
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrorKind classifies err into one of the client-facing kinds.
func ErrorKind(err error) string {
	var (
		validation *ValidationError
		stock      *InsufficientStockError
		notFound   *NotFoundError
		conflict   *ConflictError
	)
	switch {
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &stock):
		return KindInsufficientStock
	case errors.As(err, &notFound), errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.As(err, &conflict):
		return KindConflict
	default:
		return KindStorage
	}
}
