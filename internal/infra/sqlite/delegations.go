package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/laurelhq/laurel/internal/domain"
)

var _ domain.DelegationStore = (*DB)(nil)

// ─── Delegation Relationship Operations ─────────────────────────────────────

// upsertDelegation applies allocation/spend deltas inside an open transaction.
// Shared by ApplyTransfer so that relationship updates commit with the ledger
// rows they describe.
func upsertDelegation(ctx context.Context, tx *sql.Tx, upd *domain.DelegationUpdate) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO delegations (parent_account_id, child_account_id, allocated_amount, spent_amount, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(parent_account_id, child_account_id) DO UPDATE SET
			allocated_amount = allocated_amount + excluded.allocated_amount,
			spent_amount     = spent_amount + excluded.spent_amount,
			updated_at       = excluded.updated_at
	`, upd.ParentAccountID, upd.ChildAccountID, upd.AllocatedDelta, upd.SpentDelta,
		formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert delegation: %w", err)
	}
	return nil
}

// GetDelegation retrieves the relationship for a (parent, child) pair.
// A missing relationship returns a zero-valued record, not an error: an
// account with no allocation simply has nothing to recall or spend.
func (d *DB) GetDelegation(ctx context.Context, parentID, childID string) (*domain.Delegation, error) {
	rel := &domain.Delegation{ParentAccountID: parentID, ChildAccountID: childID}
	var updatedAt string
	err := d.db.QueryRowContext(ctx, `
		SELECT allocated_amount, spent_amount, monthly_cap, updated_at
		FROM delegations WHERE parent_account_id = ? AND child_account_id = ?
	`, parentID, childID).Scan(&rel.AllocatedAmount, &rel.SpentAmount, &rel.MonthlyCap, &updatedAt)
	if err == sql.ErrNoRows {
		return rel, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delegation: %w", err)
	}
	rel.UpdatedAt = parseTime(updatedAt)
	return rel, nil
}

// GetDelegationByChild returns the relationship whose child is the given
// account, or nil when the account has never received an allocation.
func (d *DB) GetDelegationByChild(ctx context.Context, childID string) (*domain.Delegation, error) {
	rel := &domain.Delegation{ChildAccountID: childID}
	var updatedAt string
	err := d.db.QueryRowContext(ctx, `
		SELECT parent_account_id, allocated_amount, spent_amount, monthly_cap, updated_at
		FROM delegations WHERE child_account_id = ?
	`, childID).Scan(&rel.ParentAccountID, &rel.AllocatedAmount, &rel.SpentAmount, &rel.MonthlyCap, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delegation by child: %w", err)
	}
	rel.UpdatedAt = parseTime(updatedAt)
	return rel, nil
}

// SetMonthlyCap sets the monthly recognition cap on a relationship.
func (d *DB) SetMonthlyCap(ctx context.Context, parentID, childID string, cap int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO delegations (parent_account_id, child_account_id, monthly_cap, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(parent_account_id, child_account_id) DO UPDATE SET
			monthly_cap = excluded.monthly_cap,
			updated_at  = excluded.updated_at
	`, parentID, childID, cap, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set monthly cap: %w", err)
	}
	return nil
}
