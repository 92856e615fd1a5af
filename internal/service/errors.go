package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fjod/storefront/internal/repository"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrConcurrencyConflict    = errors.New("concurrent update conflict, please retry")
	ErrNotFound               = errors.New("not found")
	ErrOwnershipViolation     = errors.New("order belongs to another user")
	ErrInvalidStateTransition = errors.New("order status does not allow this change")
	ErrTransientStoreFailure  = errors.New("store temporarily unavailable, please retry")
)

// Error is the only error type returned by the order services. Kind is one of the
// sentinels above, so callers match with errors.Is. The underlying store error is
// available through Cause for logging only; Unwrap never reaches it.
type Error struct {
	Kind        error
	ProductName string
	Fields      map[string]string
	cause       error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrInsufficientStock:
		return fmt.Sprintf("product %q has insufficient stock", e.ProductName)
	case ErrValidation:
		if len(e.Fields) == 0 {
			return e.Kind.Error()
		}
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		return e.Kind.Error() + ": " + strings.Join(parts, "; ")
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func (e *Error) Cause() error {
	return e.cause
}

// Retryable reports whether the same request may succeed later without changes.
func (e *Error) Retryable() bool {
	return e.Kind == ErrTransientStoreFailure || e.Kind == ErrConcurrencyConflict
}

func newError(kind, cause error) *Error {
	return &Error{Kind: kind, cause: cause}
}

func validationError(fields map[string]string) *Error {
	return &Error{Kind: ErrValidation, Fields: fields}
}

func insufficientStock(productName string) *Error {
	return &Error{Kind: ErrInsufficientStock, ProductName: productName}
}

// asError converts anything coming out of the store into an *Error.
func asError(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, repository.ErrOrderNotFound), errors.Is(err, repository.ErrProductNotFound):
		return newError(ErrNotFound, err)
	case repository.IsConflict(err):
		return newError(ErrConcurrencyConflict, err)
	default:
		return newError(ErrTransientStoreFailure, err)
	}
}
