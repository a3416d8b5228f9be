package domain

import "errors"

// Domain errors
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrPoolClosed           = errors.New("pool closed for contributions")
	ErrOutOfBounds          = errors.New("contribution amount out of bounds")
	ErrInvalidConfiguration = errors.New("invalid pool configuration")
	ErrAlreadyDistributed   = errors.New("pool already distributed")
	ErrNoBadgeConfigured    = errors.New("no badge configured for token total")
	ErrBalanceCapExceeded   = errors.New("balance cap exceeded")
	ErrPoolNotFound         = errors.New("pool not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInternalError        = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPoolNotFound) || errors.Is(err, ErrUserNotFound)
}

// IsValidationError checks if an error is a caller-input validation failure
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrOutOfBounds) ||
		errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrInvalidRequest)
}

// IsConflictError checks if an error is a state-conflict failure
func IsConflictError(err error) bool {
	return errors.Is(err, ErrPoolClosed) ||
		errors.Is(err, ErrAlreadyDistributed) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrBalanceCapExceeded)
}
