// Package errs defines the errors the checkout and order services return.
// Callers match them with errors.As; storage errors never cross a service
// boundary without being converted into one of these types first.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input. Field is the JSON path of the
// offending value, e.g. "shipping_address.city".
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type EmptyCartError struct{}

func (e *EmptyCartError) Error() string { return "cart is empty" }

type ProductUnavailableError struct {
	ProductName string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %q is no longer available", e.ProductName)
}

type InsufficientStockError struct {
	ProductName string
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: %d available", e.ProductName, e.Available)
}

// OrderNumberCollisionError is raised when a generated order number is
// already taken. The engine retries it and only surfaces it wrapped in a
// TransientError.
type OrderNumberCollisionError struct {
	OrderNumber string
}

func (e *OrderNumberCollisionError) Error() string {
	return fmt.Sprintf("order number %s already exists", e.OrderNumber)
}

// IdempotencyKeyReuseError is returned when a caller sends a key it already
// used with a different request.
type IdempotencyKeyReuseError struct {
	Key string
}

func (e *IdempotencyKeyReuseError) Error() string {
	return fmt.Sprintf("idempotency key %q was already used for a different request", e.Key)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// TransientError wraps contention, timeouts and serialization failures.
// Retrying the whole operation is safe because nothing was persisted.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: temporary failure, please retry", e.Op)
}

func (e *TransientError) Unwrap() error { return e.Err }

type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// InternalError hides a non-retryable storage failure. The cause is kept for
// logging only.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: internal error", e.Op)
}

func (e *InternalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is safe to retry as a whole.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsDomain reports whether err already belongs to this taxonomy.
func IsDomain(err error) bool {
	var (
		ve *ValidationError
		ec *EmptyCartError
		pu *ProductUnavailableError
		is *InsufficientStockError
		oc *OrderNumberCollisionError
		nf *NotFoundError
		te *TransientError
		it *InvalidTransitionError
		ie *InternalError
		ir *IdempotencyKeyReuseError
	)
	return errors.As(err, &ve) || errors.As(err, &ec) || errors.As(err, &pu) ||
		errors.As(err, &is) || errors.As(err, &oc) || errors.As(err, &nf) ||
		errors.As(err, &te) || errors.As(err, &it) || errors.As(err, &ie) ||
		errors.As(err, &ir)
}
