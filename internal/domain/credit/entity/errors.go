package entity

import "errors"

// Validation errors
var (
	ErrEmptyOwner           = errors.New("owner is required")
	ErrInvalidCPF           = errors.New("invalid cpf")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrUnknownOperation     = errors.New("unknown billable operation")
)

// Business logic errors
var (
	ErrPackageNotFound     = errors.New("package not found")
	ErrPurchaseNotFound    = errors.New("purchase not found")
	ErrPurchaseNotPending  = errors.New("purchase is no longer pending")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrChargeInProgress    = errors.New("a charge with this idempotency key is in progress")
	ErrPaymentGateway      = errors.New("payment gateway error")
)
