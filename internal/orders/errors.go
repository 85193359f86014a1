package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrEmptyCart         = errors.New("cart empty")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOutOfStock        = errors.New("not enough stock")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotPayable        = errors.New("order not payable")
	ErrGateway           = errors.New("payment gateway error")
	ErrConflict          = errors.New("reconciliation conflict")
	ErrInvalidQuantity   = errors.New("quantity must be > 0")
	ErrInvalidOutcome    = errors.New("unknown payment outcome")
	ErrInvalidProduct    = errors.New("invalid product")
)

type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type InvalidTransitionError struct {
	OrderID   string
	Current   Status
	Attempted Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.Current, e.Attempted)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type NotPayableError struct {
	OrderID string
	Status  Status
}

func (e *NotPayableError) Error() string {
	return fmt.Sprintf("order %s not payable in status %s", e.OrderID, e.Status)
}

func (e *NotPayableError) Is(target error) bool { return target == ErrNotPayable }

// GatewayError is transient; callers may retry CreateChargeIntent.
type GatewayError struct {
	OrderID string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error for order %s: %v", e.OrderID, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

type ConflictError struct {
	PaymentID string
	IntentRef string
	Current   PaymentStatus
	Incoming  Outcome
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("payment %s (intent %s) is %s, ignoring %s event", e.PaymentID, e.IntentRef, e.Current, e.Incoming)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
