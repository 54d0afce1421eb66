package services

import (
	"errors"
	"net/http"
)

// Domain error taxonomy. Every failed operation surfaces one of these
// to the caller; nothing is swallowed or retried inside the core.
var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrDealNotFound      = errors.New("funding deal not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrInvalidTransition = errors.New("invalid deal status transition")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidEquity     = errors.New("equity must be greater than 0 and at most 100")
)

// StatusForError maps a domain error to its HTTP status. Unknown
// errors are treated as internal.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, ErrWalletNotFound), errors.Is(err, ErrDealNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidEquity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
