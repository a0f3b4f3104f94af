package domain

import "time"

// ─── Transaction Types ──────────────────────────────────────────────────────

// TransactionType represents the business reason for a ledger entry.
type TransactionType string

const (
	TxCreditInjection  TransactionType = "CREDIT_INJECTION"
	TxClawback         TransactionType = "CLAWBACK"
	TxAdjustment       TransactionType = "ADJUSTMENT"
	TxDelegation       TransactionType = "DELEGATION"
	TxRecognitionAward TransactionType = "RECOGNITION_AWARD"
	TxRedemption       TransactionType = "REDEMPTION"
	TxReversal         TransactionType = "REVERSAL"
	TxExpiry           TransactionType = "EXPIRY"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxCreditInjection, TxClawback, TxAdjustment, TxDelegation,
		TxRecognitionAward, TxRedemption, TxReversal, TxExpiry:
		return true
	}
	return false
}

// TransactionStatus is the projection state of a ledger entry.
//
// PENDING entries reserve funds (they count against the available balance)
// but are excluded from the settled balance until COMPLETED. REVOKED entries
// are excluded permanently but remain in the log for audit.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxRevoked   TransactionStatus = "REVOKED"
	TxFailed    TransactionStatus = "FAILED"
)

// Transaction is a single immutable row in the points ledger. A row is never
// mutated after insert except for its status; revocation is effected by an
// explicit compensating REVERSAL row, never by rewriting amounts.
type Transaction struct {
	ID               string            `json:"id"`
	AccountID        string            `json:"account_id"`
	CounterAccountID string            `json:"counter_account_id,omitempty"` // set for transfers
	Amount           int64             `json:"amount"`                       // signed; debits are negative
	Type             TransactionType   `json:"type"`
	Status           TransactionStatus `json:"status"`
	OpID             string            `json:"op_id,omitempty"` // shared by both legs of a transfer
	ReferenceNote    string            `json:"reference_note,omitempty"`
	CreatedBy        string            `json:"created_by"`
	CreatedAt        time.Time         `json:"created_at"`
}

// IsDebit reports whether the entry removes points from its account.
func (t *Transaction) IsDebit() bool { return t.Amount < 0 }

// ─── Delegation Relationship ────────────────────────────────────────────────

// Delegation is the capped-transfer link between a parent account and a
// child account one tier down. It is a weak reference: neither account owns
// the other.
//
// Invariants: AllocatedAmount never exceeds the parent's balance at the time
// of allocation, and SpentAmount <= AllocatedAmount.
type Delegation struct {
	ParentAccountID string    `json:"parent_account_id"`
	ChildAccountID  string    `json:"child_account_id"`
	AllocatedAmount int64     `json:"allocated_amount"`
	SpentAmount     int64     `json:"spent_amount"`
	MonthlyCap      int64     `json:"monthly_cap,omitempty"` // 0 = uncapped
	UpdatedAt       time.Time `json:"updated_at"`
}

// Unspent returns the portion of the allocation not yet spent.
func (d *Delegation) Unspent() int64 { return d.AllocatedAmount - d.SpentAmount }
