package domain

import (
	"context"
	"time"
)

// ─── Storage Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// AccountStore abstracts persistent account storage.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *Account) error
	GetAccount(ctx context.Context, id string) (*Account, error)
	// ListAccounts returns accounts for a tenant, optionally filtered by kind
	// (empty kind = all kinds).
	ListAccounts(ctx context.Context, tenantID string, kind AccountKind) ([]Account, error)
}

// TransactionStore abstracts the append-only transaction log.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status TransactionStatus) error

	// SumCompleted returns the settled balance: the sum of COMPLETED amounts.
	SumCompleted(ctx context.Context, accountID string) (int64, error)
	// SumPendingDebits returns the (negative) sum of PENDING debit amounts,
	// i.e. outstanding reservations against the account.
	SumPendingDebits(ctx context.Context, accountID string) (int64, error)
	// SumTypeSince sums COMPLETED amounts of one type since a point in time.
	SumTypeSince(ctx context.Context, accountID string, txType TransactionType, since time.Time) (int64, error)

	ListTransactions(ctx context.Context, accountID string, limit int) ([]Transaction, error)
	// ListRecentByType returns a tenant's recent COMPLETED credit entries of
	// the given type, newest first. Used by the dashboard summary.
	ListRecentByType(ctx context.Context, tenantID string, txType TransactionType, limit int) ([]Transaction, error)
}

// DelegationUpdate describes the relationship change applied alongside a
// transfer. Deltas may be negative (recall shrinks the allocation).
type DelegationUpdate struct {
	ParentAccountID string
	ChildAccountID  string
	AllocatedDelta  int64
	SpentDelta      int64
}

// TransferStore groups the multi-row mutations that must commit atomically.
type TransferStore interface {
	// ApplyTransfer inserts both legs of a transfer and applies any
	// relationship updates in a single storage transaction. Nil updates are
	// skipped.
	ApplyTransfer(ctx context.Context, debit, credit *Transaction, upds ...*DelegationUpdate) error
	// RevokePending marks a PENDING entry REVOKED and records the compensating
	// reversal row in a single storage transaction.
	RevokePending(ctx context.Context, txID string, reversal *Transaction) error
}

// DelegationStore abstracts delegation relationship reads.
type DelegationStore interface {
	GetDelegation(ctx context.Context, parentID, childID string) (*Delegation, error)
	// GetDelegationByChild returns the relationship whose child is the given
	// account. Every non-platform account has at most one parent.
	GetDelegationByChild(ctx context.Context, childID string) (*Delegation, error)
	SetMonthlyCap(ctx context.Context, parentID, childID string, cap int64) error
}

// RedemptionStore abstracts redemption persistence.
type RedemptionStore interface {
	InsertRedemption(ctx context.Context, r *Redemption) error
	GetRedemption(ctx context.Context, id string) (*Redemption, error)
	// SetRedemptionOTP stores the code hash and expiry, promoting the
	// redemption from INITIATED to OTP_PENDING.
	SetRedemptionOTP(ctx context.Context, id, hash string, expiry time.Time) error
	UpdateRedemptionStatus(ctx context.Context, id string, status RedemptionStatus, failureReason string) error
	// IncrementOTPAttempts bumps the attempt counter and returns the new value.
	IncrementOTPAttempts(ctx context.Context, id string) (int, error)
	SetRedemptionDelivery(ctx context.Context, id string, d *DeliveryDetails) error
	ListRedemptionsByUser(ctx context.Context, userID string, limit int) ([]Redemption, error)
	// ListStaleProcessing returns redemptions stuck in PROCESSING since before
	// the cutoff. Consumed by the fulfillment watchdog.
	ListStaleProcessing(ctx context.Context, before time.Time) ([]Redemption, error)
	// ListExpiredOTP returns redemptions still in OTP_PENDING whose code
	// expired before now. Consumed by the same watchdog so abandoned
	// redemptions release their reservation.
	ListExpiredOTP(ctx context.Context, now time.Time) ([]Redemption, error)
}

// TenantStore abstracts tenant persistence.
type TenantStore interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	SetDomainWhitelist(ctx context.Context, tenantID string, domains []string) error
}
