/*
errors.go - Error taxonomy of the stock engine

ERROR CATEGORIES:
  1. Business rule violations - expected, caller can recover
     ErrNotFound, ErrInvalidAmount, ErrInvalidItem,
     ErrInsufficientAvailableStock, ErrInsufficientReservedStock,
     ErrReservationExceedsNewQuantity, ErrDuplicateIdempotencyKey
  2. Fatal state errors - invariants that should be structurally
     guaranteed were found broken. Never repaired silently.
     ErrDataInconsistency, ErrConstraintViolation
  3. Infrastructure errors - transient, caller decides whether to retry
     ErrStorage, ErrConcurrentModification

USAGE:
  if errors.Is(err, inventory.ErrInsufficientAvailableStock) {
      var e *inventory.InsufficientAvailableError
      errors.As(err, &e)
      // e.Available tells the caller what is left
  }
*/
package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an item does not exist, or is inactive
	// and the operation requires an active item.
	ErrNotFound = errors.New("item not found")

	// ErrInvalidAmount is returned for non-positive amounts where positive
	// is required, and negative amounts where non-negative is required.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidItem is returned when item details fail validation.
	ErrInvalidItem = errors.New("invalid item")

	ErrInsufficientAvailableStock    = errors.New("insufficient available stock")
	ErrInsufficientReservedStock     = errors.New("insufficient reserved stock")
	ErrReservationExceedsNewQuantity = errors.New("reservation exceeds new quantity")

	// ErrDuplicateIdempotencyKey is returned when a movement reuses a key
	// that is already in the stock log. Nothing is applied.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDataInconsistency means reserved stock was sufficient but physical
	// stock was not. Only reachable if reserved > quantity was
	// written elsewhere.
	ErrDataInconsistency = errors.New("data inconsistency")

	// ErrConstraintViolation is returned by ApplyDelta when a change would
	// push reserved above quantity or either counter below zero.
	ErrConstraintViolation = errors.New("stock constraint violation")

	// ErrStorage wraps backing store failures.
	ErrStorage = errors.New("storage unavailable")

	// ErrConcurrentModification is returned when a version-checked write
	// lost against another writer.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientAvailableError reports how much could still be allocated.
type InsufficientAvailableError struct {
	ItemID    string
	Available int64
	Requested int64
}

func (e *InsufficientAvailableError) Error() string {
	return fmt.Sprintf("insufficient available stock for item %s: available %d, requested %d",
		e.ItemID, e.Available, e.Requested)
}

func (e *InsufficientAvailableError) Unwrap() error { return ErrInsufficientAvailableStock }

type InsufficientReservedError struct {
	ItemID    string
	Reserved  int64
	Requested int64
}

func (e *InsufficientReservedError) Error() string {
	return fmt.Sprintf("insufficient reserved stock for item %s: reserved %d, requested %d",
		e.ItemID, e.Reserved, e.Requested)
}

func (e *InsufficientReservedError) Unwrap() error { return ErrInsufficientReservedStock }

type ReservationExceedsError struct {
	ItemID      string
	Reserved    int64
	NewQuantity int64
}

func (e *ReservationExceedsError) Error() string {
	return fmt.Sprintf("cannot set quantity of item %s to %d: %d units are reserved",
		e.ItemID, e.NewQuantity, e.Reserved)
}

func (e *ReservationExceedsError) Unwrap() error { return ErrReservationExceedsNewQuantity }

// DataInconsistencyError is raised by commit when reserved >= amount but
// quantity < amount.
type DataInconsistencyError struct {
	ItemID           string
	Quantity         int64
	ReservedQuantity int64
	Requested        int64
}

func (e *DataInconsistencyError) Error() string {
	return fmt.Sprintf("data inconsistency on item %s: quantity %d below reserved %d (commit of %d)",
		e.ItemID, e.Quantity, e.ReservedQuantity, e.Requested)
}

func (e *DataInconsistencyError) Unwrap() error { return ErrDataInconsistency }

// ConstraintViolationError describes the state ApplyDelta refused to write.
type ConstraintViolationError struct {
	ItemID           string
	Quantity         int64
	ReservedQuantity int64
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("stock constraint violation on item %s: quantity %d, reserved %d",
		e.ItemID, e.Quantity, e.ReservedQuantity)
}

func (e *ConstraintViolationError) Unwrap() error { return ErrConstraintViolation }

// StorageError wraps a driver or connection failure. errors.Is matches both
// ErrStorage and the underlying error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError unless it is nil or already one of
// the engine's own errors.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if isEngineError(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidItem) ||
		errors.Is(err, ErrInsufficientAvailableStock) ||
		errors.Is(err, ErrInsufficientReservedStock) ||
		errors.Is(err, ErrReservationExceedsNewQuantity) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing item.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFatal returns true for corrupted-state errors that operators must
// investigate.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDataInconsistency) || errors.Is(err, ErrConstraintViolation)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrConcurrentModification)
}

func isEngineError(err error) bool {
	return IsClientError(err) || IsNotFound(err) || IsFatal(err) || IsRetryable(err)
}
