package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Errors returned by the auction service. Storage implementations wrap
// ErrNotFound, ErrConflict and ErrTransient so callers can use errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidPhase  = errors.New("invalid auction phase")
	ErrNotRegistered = errors.New("bidder not registered for auction")
	ErrSizeRequired  = errors.New("size required")
	ErrInvalidSize   = errors.New("invalid size")
	ErrBidTooLow     = errors.New("bid amount too low")
	ErrConflict      = errors.New("conflict")
	ErrUnverified    = errors.New("bidder identity not verified")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrTransient marks failures that happened before commit and can be
	// retried by the caller (lock timeout, deadlock, lost connection).
	ErrTransient = errors.New("transient storage failure")
)

// BidTooLowError reports the minimum acceptable amount for a rejected bid.
type BidTooLowError struct {
	Amount  decimal.Decimal
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("%s: %s is below the minimum acceptable bid of %s", ErrBidTooLow, e.Amount, e.Minimum)
}

func (e *BidTooLowError) Is(target error) bool {
	return target == ErrBidTooLow
}
