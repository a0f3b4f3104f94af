// Package ledger implements the append-only points ledger and its balance
// projection.
//
// The ledger is the single source of truth for every point movement on the
// platform. Balances are never stored; they are folded from the transaction
// log on demand:
//
//	balance   = Σ amount where status = COMPLETED
//	available = balance + Σ amount where status = PENDING and amount < 0
//
// PENDING debits are reservations (an in-flight redemption holds points it
// has not yet spent). They reduce what an account may spend without touching
// the settled balance. Rows are immutable once written except for the
// PENDING → COMPLETED / PENDING → REVOKED status flip.
package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"time"

	"github.com/laurelhq/laurel/internal/domain"
	"github.com/laurelhq/laurel/internal/infra/observability"
)

// stripes is the size of the account lock table. Power of two so the hash
// maps cheaply.
const stripes = 64

// Store is the persistence surface the ledger needs.
type Store interface {
	domain.AccountStore
	domain.TransactionStore
	domain.TransferStore
}

// Ledger serializes balance-check-then-append per account and projects
// balances from the transaction log.
type Ledger struct {
	store Store
	locks [stripes]chan struct{} // striped binary semaphores, lockable in order
	log   *slog.Logger
}

// New creates a ledger over the given store.
func New(store Store, log *slog.Logger) *Ledger {
	l := &Ledger{store: store, log: log.With("component", "ledger")}
	for i := range l.locks {
		l.locks[i] = make(chan struct{}, 1)
	}
	return l
}

func stripeFor(accountID string) int {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return int(h.Sum32() % stripes)
}

// WithAccounts runs fn while holding the lock stripes of every given account.
// Stripes are acquired in ascending index order so two callers locking
// overlapping account sets cannot deadlock.
func (l *Ledger) WithAccounts(ctx context.Context, ids []string, fn func() error) error {
	idx := make([]int, 0, len(ids))
	for _, id := range ids {
		idx = append(idx, stripeFor(id))
	}
	sort.Ints(idx)

	held := make([]int, 0, len(idx))
	for i, s := range idx {
		if i > 0 && s == idx[i-1] {
			continue // same stripe, already held
		}
		select {
		case l.locks[s] <- struct{}{}:
			held = append(held, s)
		case <-ctx.Done():
			for _, h := range held {
				<-l.locks[h]
			}
			return ctx.Err()
		}
	}
	defer func() {
		for _, h := range held {
			<-l.locks[h]
		}
	}()
	return fn()
}

// ─── Append ─────────────────────────────────────────────────────────────────

// Append writes a single transaction. It is the only mutation primitive:
// every credit, debit and reservation enters the log through here.
//
// Debits are rejected with ErrInsufficientFunds when the available balance
// (settled minus outstanding reservations) cannot cover them. The check and
// the insert run under the account's lock stripe, so concurrent debits
// cannot both pass the check against the same funds.
func (l *Ledger) Append(ctx context.Context, tx *domain.Transaction) (string, error) {
	return l.append(ctx, tx, false)
}

// AppendAdjustment writes an ADJUSTMENT entry without the available-balance
// check. Reserved for manual corrections by operators holding the override
// capability; amounts may drive an account negative.
func (l *Ledger) AppendAdjustment(ctx context.Context, tx *domain.Transaction) (string, error) {
	tx.Type = domain.TxAdjustment
	return l.append(ctx, tx, true)
}

func (l *Ledger) append(ctx context.Context, tx *domain.Transaction, allowOverdraft bool) (string, error) {
	if tx.Amount == 0 {
		return "", domain.ErrAmountNotPositive
	}
	if !tx.Type.Valid() {
		return "", fmt.Errorf("unknown transaction type %q", tx.Type)
	}
	if _, err := l.store.GetAccount(ctx, tx.AccountID); err != nil {
		return "", err
	}

	err := l.WithAccounts(ctx, []string{tx.AccountID}, func() error {
		if tx.IsDebit() && !allowOverdraft {
			avail, err := l.available(ctx, tx.AccountID)
			if err != nil {
				return err
			}
			if avail+tx.Amount < 0 {
				observability.LedgerInsufficientFunds.Inc()
				return domain.ErrInsufficientFunds
			}
		}
		return l.store.InsertTransaction(ctx, tx)
	})
	if err != nil {
		observability.LedgerAppends.WithLabelValues(string(tx.Type), "error").Inc()
		return "", err
	}

	observability.LedgerAppends.WithLabelValues(string(tx.Type), "ok").Inc()
	l.log.Debug("transaction appended",
		"tx_id", tx.ID, "account_id", tx.AccountID,
		"type", tx.Type, "amount", tx.Amount, "status", tx.Status)
	return tx.ID, nil
}

// AppendPair writes both legs of a transfer and any relationship updates
// atomically, holding both accounts' lock stripes. The debit leg is
// balance-checked; the credit leg is not.
func (l *Ledger) AppendPair(ctx context.Context, debit, credit *domain.Transaction, upds ...*domain.DelegationUpdate) error {
	if debit.Amount >= 0 || credit.Amount <= 0 {
		return domain.ErrAmountNotPositive
	}
	if _, err := l.store.GetAccount(ctx, debit.AccountID); err != nil {
		return err
	}
	if _, err := l.store.GetAccount(ctx, credit.AccountID); err != nil {
		return err
	}

	err := l.WithAccounts(ctx, []string{debit.AccountID, credit.AccountID}, func() error {
		avail, err := l.available(ctx, debit.AccountID)
		if err != nil {
			return err
		}
		if avail+debit.Amount < 0 {
			observability.LedgerInsufficientFunds.Inc()
			return domain.ErrInsufficientFunds
		}
		return l.store.ApplyTransfer(ctx, debit, credit, upds...)
	})
	if err != nil {
		observability.LedgerAppends.WithLabelValues(string(debit.Type), "error").Inc()
		return err
	}

	observability.LedgerAppends.WithLabelValues(string(debit.Type), "ok").Inc()
	l.log.Debug("transfer appended",
		"op_id", debit.OpID, "from", debit.AccountID, "to", credit.AccountID,
		"type", debit.Type, "amount", credit.Amount)
	return nil
}

// ─── Projection ─────────────────────────────────────────────────────────────

// BalanceOf returns the settled balance: the sum of COMPLETED amounts.
func (l *Ledger) BalanceOf(ctx context.Context, accountID string) (int64, error) {
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return 0, err
	}
	return l.store.SumCompleted(ctx, accountID)
}

// AvailableOf returns the spendable balance: settled minus outstanding
// PENDING reservations.
func (l *Ledger) AvailableOf(ctx context.Context, accountID string) (int64, error) {
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return 0, err
	}
	return l.available(ctx, accountID)
}

// available computes availability without re-validating the account.
// Mutation-path callers invoke it while holding the account's lock stripe.
func (l *Ledger) available(ctx context.Context, accountID string) (int64, error) {
	settled, err := l.store.SumCompleted(ctx, accountID)
	if err != nil {
		return 0, err
	}
	pending, err := l.store.SumPendingDebits(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return settled + pending, nil
}

// ─── Pending Resolution ─────────────────────────────────────────────────────

// CompletePending settles a PENDING entry. The reserved points become spent.
func (l *Ledger) CompletePending(ctx context.Context, txID string) error {
	tx, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Status != domain.TxPending {
		return domain.ErrTxNotPending
	}
	if err := l.store.UpdateTransactionStatus(ctx, txID, domain.TxCompleted); err != nil {
		return err
	}
	l.log.Info("reservation settled", "tx_id", txID, "account_id", tx.AccountID, "amount", tx.Amount)
	return nil
}

// Reverse revokes a PENDING entry and appends the compensating REVERSAL row.
// The original row keeps its amount and type; only its status flips. The
// reversal row carries the opposite amount and is excluded from projection,
// so the account's available balance is restored by the revocation alone.
func (l *Ledger) Reverse(ctx context.Context, txID, note, actor string) error {
	tx, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Status != domain.TxPending {
		return domain.ErrTxNotPending
	}

	reversal := &domain.Transaction{
		AccountID:     tx.AccountID,
		Amount:        -tx.Amount,
		Type:          domain.TxReversal,
		OpID:          tx.OpID,
		ReferenceNote: note,
		CreatedBy:     actor,
	}
	err = l.WithAccounts(ctx, []string{tx.AccountID}, func() error {
		return l.store.RevokePending(ctx, txID, reversal)
	})
	if err != nil {
		return err
	}
	l.log.Info("reservation reversed",
		"tx_id", txID, "reversal_id", reversal.ID,
		"account_id", tx.AccountID, "reason", note)
	return nil
}

// ─── Statement & Expiry ─────────────────────────────────────────────────────

// Statement returns the account's recent entries, newest first, including
// REVOKED reservations and their reversal rows. The full trail is the audit
// record; nothing is hidden from it.
func (l *Ledger) Statement(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return l.store.ListTransactions(ctx, accountID, limit)
}

// ExpireInactive sweeps user wallets whose last activity predates olderThan
// and debits their remaining balance as EXPIRY. Returns the number of
// wallets expired. Invoked from the daemon's expiry ticker.
func (l *Ledger) ExpireInactive(ctx context.Context, tenantID string, olderThan time.Time) (int, error) {
	wallets, err := l.store.ListAccounts(ctx, tenantID, domain.KindUserWallet)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range wallets {
		w := &wallets[i]
		recent, err := l.store.ListTransactions(ctx, w.ID, 1)
		if err != nil {
			return expired, err
		}
		if len(recent) == 0 || recent[0].CreatedAt.After(olderThan) {
			continue
		}
		err = l.WithAccounts(ctx, []string{w.ID}, func() error {
			avail, err := l.available(ctx, w.ID)
			if err != nil {
				return err
			}
			if avail <= 0 {
				return nil
			}
			tx := &domain.Transaction{
				AccountID:     w.ID,
				Amount:        -avail,
				Type:          domain.TxExpiry,
				ReferenceNote: "inactivity expiry",
				CreatedBy:     "system",
			}
			if err := l.store.InsertTransaction(ctx, tx); err != nil {
				return err
			}
			expired++
			l.log.Info("wallet expired", "account_id", w.ID, "amount", avail)
			return nil
		})
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}
