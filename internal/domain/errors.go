package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Ledger errors
	ErrInvalidAccount    = errors.New("account does not exist")
	ErrDuplicateAccount  = errors.New("account already exists")
	ErrInsufficientFunds = errors.New("insufficient points balance")
	ErrAmountNotPositive = errors.New("amount must be positive")
	ErrTxNotFound        = errors.New("transaction not found")
	ErrTxNotPending      = errors.New("transaction is not pending")

	// Delegation errors
	ErrInvalidHierarchyEdge = errors.New("delegation edge skips or inverts hierarchy tiers")
	ErrOverRecall           = errors.New("recall exceeds unspent allocation")
	ErrMonthlyCapExceeded   = errors.New("monthly recognition cap exceeded")

	// Redemption errors
	ErrRedemptionNotFound        = errors.New("redemption not found")
	ErrOtpExpired                = errors.New("one-time passcode has expired")
	ErrOtpMismatch               = errors.New("one-time passcode does not match")
	ErrMaxAttemptsExceeded       = errors.New("too many failed passcode attempts")
	ErrIncompleteDeliveryDetails = errors.New("delivery details are incomplete")
	ErrInvalidTransition         = errors.New("invalid redemption state transition")
	ErrInvalidItemType           = errors.New("unknown redemption item type")

	// Authorization errors
	ErrUnauthorized   = errors.New("actor is not permitted to perform this action")
	ErrTenantMismatch = errors.New("resource belongs to a different tenant")

	// Tenant errors
	ErrTenantNotFound = errors.New("tenant not found")
)
