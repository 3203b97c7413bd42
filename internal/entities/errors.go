package entities

import "errors"

// Validation errors are surfaced to the caller before any state mutation.
var (
	ErrDuplicateOrder   = errors.New("order id already exists")
	ErrUnsupportedAsset = errors.New("asset is not on the supported list")
	ErrInvalidAmount    = errors.New("amount must be positive")

	ErrOrderNotFound     = errors.New("order not found")
	ErrNotPending        = errors.New("order is not payable")
	ErrUnauthorizedPayer = errors.New("caller is not the designated payer")
	ErrAmountMismatch    = errors.New("payment amount does not match")
	ErrExpired           = errors.New("order is past its expiry time")
	ErrInvalidTransition = errors.New("invalid order status transition")

	ErrMerchantNotFound    = errors.New("merchant not found")
	ErrContributorNotFound = errors.New("contributor not found")
	ErrInsufficientBalance = errors.New("insufficient withdrawable balance")
)

// Consensus errors abort the enclosing payment cleanly, no funds moved.
var (
	ErrNodeNotFound          = errors.New("oracle node not found")
	ErrNodeInactive          = errors.New("oracle node is not active")
	ErrRateDeviationTooLarge = errors.New("rate deviates too far from trusted rate")
	ErrTooFrequent           = errors.New("submission before minimum update interval")
	ErrRateUnavailable       = errors.New("no trusted rate for asset pair")
	ErrRateStale             = errors.New("trusted rate is stale")
	ErrConfidenceTooLow      = errors.New("trusted rate confidence below threshold")
	ErrSlippageExceeded      = errors.New("conversion output below minimum acceptable")
)

var (
	// ErrArithmeticOverflow is fatal to the call, never silently clamped.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrTokenTransferFailed wraps failures of the external token capability.
	ErrTokenTransferFailed = errors.New("token transfer failed")

	// ErrUnauthorized is the uniform rejection for the administrative surface.
	ErrUnauthorized = errors.New("caller is not authorized")
)
