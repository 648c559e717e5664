package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable classification surfaced to callers.
type ErrorKind string

const (
	// Validation errors, rejected before any external call.
	ErrInvalidSide           ErrorKind = "invalid_side"
	ErrInvalidPrice          ErrorKind = "invalid_price"
	ErrInvalidAmount         ErrorKind = "invalid_amount"
	ErrInvalidNonce          ErrorKind = "invalid_nonce"
	ErrBelowMinimumOrderSize ErrorKind = "below_minimum_order_size"

	// Market errors, recoverable by resubmitting with adjusted parameters.
	ErrPriceDeviation        ErrorKind = "price_deviation"
	ErrInsufficientLiquidity ErrorKind = "insufficient_liquidity"
	ErrInsufficientBalance   ErrorKind = "insufficient_balance"
	ErrInsufficientAllowance ErrorKind = "insufficient_allowance"
	ErrApprovalFailed        ErrorKind = "approval_failed"
	ErrOrderRejected         ErrorKind = "order_rejected_by_exchange"

	// Infrastructure errors, retried locally and then surfaced as unavailable.
	ErrTemporarilyUnavailable ErrorKind = "temporarily_unavailable"

	// Consistency errors: an on-chain effect happened but the ledger write
	// failed. The mark step must be retried, never assumed.
	ErrLedgerInconsistent ErrorKind = "ledger_inconsistent"
)

// TradeError carries the kind plus enough structured detail for the caller
// to act on (available liquidity, required amounts) without parsing strings.
type TradeError struct {
	Kind    ErrorKind
	Detail  string
	Context map[string]float64
	Err     error
}

func (e *TradeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *TradeError) Unwrap() error { return e.Err }

// NewTradeError builds a TradeError without context values.
func NewTradeError(kind ErrorKind, detail string) *TradeError {
	return &TradeError{Kind: kind, Detail: detail}
}

// NewTradeErrorf builds a TradeError with a formatted detail string.
func NewTradeErrorf(kind ErrorKind, format string, args ...any) *TradeError {
	return &TradeError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WithContext attaches a named numeric detail, returning the same error.
func (e *TradeError) WithContext(key string, value float64) *TradeError {
	if e.Context == nil {
		e.Context = make(map[string]float64)
	}
	e.Context[key] = value
	return e
}

// WithCause wraps an underlying error, returning the same error.
func (e *TradeError) WithCause(err error) *TradeError {
	e.Err = err
	return e
}

// KindOf extracts the ErrorKind from an error chain, or "" if the error is
// not a TradeError.
func KindOf(err error) ErrorKind {
	var te *TradeError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
