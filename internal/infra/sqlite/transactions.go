package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/laurelhq/laurel/internal/domain"
)

var (
	_ domain.TransactionStore = (*DB)(nil)
	_ domain.TransferStore    = (*DB)(nil)
)

// ─── Transaction Log Operations ─────────────────────────────────────────────

// InsertTransaction appends a single ledger entry.
func (d *DB) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	fillTransaction(t)
	return retryBusy(func() error {
		return d.insertTransactionExec(ctx, d.db.ExecContext, t)
	})
}

type execFunc func(ctx context.Context, query string, args ...any) (sql.Result, error)

func (d *DB) insertTransactionExec(ctx context.Context, exec execFunc, t *domain.Transaction) error {
	var counter any
	if t.CounterAccountID != "" {
		counter = t.CounterAccountID
	}
	_, err := exec(ctx, `
		INSERT INTO transactions (id, account_id, counter_account_id, amount, type, status, op_id, reference_note, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.AccountID, counter, t.Amount, string(t.Type), string(t.Status),
		t.OpID, t.ReferenceNote, t.CreatedBy, formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func fillTransaction(t *domain.Transaction) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = domain.TxCompleted
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
}

// GetTransaction retrieves a ledger entry by id.
func (d *DB) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, account_id, counter_account_id, amount, type, status, op_id, reference_note, created_by, created_at
		FROM transactions WHERE id = ?
	`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrTxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var counter sql.NullString
	var txType, status, createdAt string
	err := row.Scan(&t.ID, &t.AccountID, &counter, &t.Amount, &txType, &status,
		&t.OpID, &t.ReferenceNote, &t.CreatedBy, &createdAt)
	if err != nil {
		return nil, err
	}
	if counter.Valid {
		t.CounterAccountID = counter.String
	}
	t.Type = domain.TransactionType(txType)
	t.Status = domain.TransactionStatus(status)
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

// UpdateTransactionStatus transitions a ledger entry's status. The entry's
// amount and metadata are immutable.
func (d *DB) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE transactions SET status = ? WHERE id = ?
	`, string(status), id)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTxNotFound
	}
	return nil
}

// SumCompleted returns the settled balance projection for an account.
func (d *DB) SumCompleted(ctx context.Context, accountID string) (int64, error) {
	var sum sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT SUM(amount) FROM transactions WHERE account_id = ? AND status = ?
	`, accountID, string(domain.TxCompleted)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum completed: %w", err)
	}
	return sum.Int64, nil
}

// SumPendingDebits returns the negative sum of outstanding reservations.
func (d *DB) SumPendingDebits(ctx context.Context, accountID string) (int64, error) {
	var sum sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT SUM(amount) FROM transactions
		WHERE account_id = ? AND status = ? AND amount < 0
	`, accountID, string(domain.TxPending)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum pending debits: %w", err)
	}
	return sum.Int64, nil
}

// SumTypeSince sums an account's COMPLETED entries of one type since a cutoff.
func (d *DB) SumTypeSince(ctx context.Context, accountID string, txType domain.TransactionType, since time.Time) (int64, error) {
	var sum sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT SUM(amount) FROM transactions
		WHERE account_id = ? AND type = ? AND status = ? AND created_at >= ?
	`, accountID, string(txType), string(domain.TxCompleted), formatTime(since)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum type since: %w", err)
	}
	return sum.Int64, nil
}

// ListTransactions returns an account's entries newest first, including
// REVOKED rows (they stay in the log for audit).
func (d *DB) ListTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, account_id, counter_account_id, amount, type, status, op_id, reference_note, created_by, created_at
		FROM transactions WHERE account_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListRecentByType returns a tenant's recent COMPLETED credit entries of the
// given type, newest first.
func (d *DB) ListRecentByType(ctx context.Context, tenantID string, txType domain.TransactionType, limit int) ([]domain.Transaction, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT t.id, t.account_id, t.counter_account_id, t.amount, t.type, t.status, t.op_id, t.reference_note, t.created_by, t.created_at
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.tenant_id = ? AND t.type = ? AND t.status = ? AND t.amount > 0
		ORDER BY t.created_at DESC LIMIT ?
	`, tenantID, string(txType), string(domain.TxCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("list recent by type: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]domain.Transaction, error) {
	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ─── Atomic Transfer Operations ─────────────────────────────────────────────

// ApplyTransfer inserts both legs of a transfer and any delegation
// relationship updates in a single transaction. Either all rows commit or
// none.
func (d *DB) ApplyTransfer(ctx context.Context, debit, credit *domain.Transaction, upds ...*domain.DelegationUpdate) error {
	fillTransaction(debit)
	fillTransaction(credit)

	return retryBusy(func() error {
		return d.withTx(ctx, func(tx *sql.Tx) error {
			if err := d.insertTransactionExec(ctx, tx.ExecContext, debit); err != nil {
				return err
			}
			if err := d.insertTransactionExec(ctx, tx.ExecContext, credit); err != nil {
				return err
			}
			for _, upd := range upds {
				if upd == nil {
					continue
				}
				if err := upsertDelegation(ctx, tx, upd); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// RevokePending marks a PENDING entry REVOKED and records the compensating
// reversal row atomically. Both rows are excluded from balance projection;
// they exist for the audit trail.
func (d *DB) RevokePending(ctx context.Context, txID string, reversal *domain.Transaction) error {
	fillTransaction(reversal)
	reversal.Status = domain.TxRevoked

	return retryBusy(func() error {
		return d.withTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, `
				UPDATE transactions SET status = ? WHERE id = ? AND status = ?
			`, string(domain.TxRevoked), txID, string(domain.TxPending))
			if err != nil {
				return fmt.Errorf("revoke transaction: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return domain.ErrTxNotPending
			}
			return d.insertTransactionExec(ctx, tx.ExecContext, reversal)
		})
	})
}
