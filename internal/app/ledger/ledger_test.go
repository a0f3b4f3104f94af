package ledger

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/laurelhq/laurel/internal/domain"
	"github.com/laurelhq/laurel/internal/infra/sqlite"
)

func newTestLedger(t *testing.T) (*Ledger, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "ledger-test.db"))
	if err != nil {
		t.Fatalf("sqlite.New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, slog.Default()), db
}

func mustAccount(t *testing.T, db *sqlite.DB, kind domain.AccountKind, tenantID string) *domain.Account {
	t.Helper()
	a := &domain.Account{Kind: kind, TenantID: tenantID}
	if err := db.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	return a
}

func TestAppendAndBalance(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	wallet := mustAccount(t, db, domain.KindUserWallet, "t1")

	// Credits then a debit: balance is the signed sum.
	amounts := []int64{1000, 250, -400}
	for _, amt := range amounts {
		if _, err := l.Append(ctx, &domain.Transaction{
			AccountID: wallet.ID, Amount: amt, Type: domain.TxAdjustment,
		}); err != nil {
			t.Fatalf("Append(%d) failed: %v", amt, err)
		}
	}

	got, err := l.BalanceOf(ctx, wallet.ID)
	if err != nil {
		t.Fatalf("BalanceOf failed: %v", err)
	}
	if got != 850 {
		t.Errorf("BalanceOf = %d, want 850", got)
	}
}

func TestAppendValidation(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	wallet := mustAccount(t, db, domain.KindUserWallet, "t1")

	tests := []struct {
		name    string
		tx      *domain.Transaction
		wantErr error
	}{
		{
			name:    "zero amount",
			tx:      &domain.Transaction{AccountID: wallet.ID, Amount: 0, Type: domain.TxAdjustment},
			wantErr: domain.ErrAmountNotPositive,
		},
		{
			name:    "unknown account",
			tx:      &domain.Transaction{AccountID: "ghost", Amount: 100, Type: domain.TxAdjustment},
			wantErr: domain.ErrInvalidAccount,
		},
		{
			name:    "debit on empty account",
			tx:      &domain.Transaction{AccountID: wallet.ID, Amount: -1, Type: domain.TxRedemption},
			wantErr: domain.ErrInsufficientFunds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Append(ctx, tt.tx)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Append = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Failed appends leave the balance unchanged.
	got, _ := l.BalanceOf(ctx, wallet.ID)
	if got != 0 {
		t.Errorf("BalanceOf after rejected appends = %d, want 0", got)
	}
}

func TestPendingReservations(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	wallet := mustAccount(t, db, domain.KindUserWallet, "t1")

	if _, err := l.Append(ctx, &domain.Transaction{
		AccountID: wallet.ID, Amount: 500, Type: domain.TxAdjustment,
	}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	hold := &domain.Transaction{
		AccountID: wallet.ID, Amount: -300,
		Type: domain.TxRedemption, Status: domain.TxPending,
	}
	if _, err := l.Append(ctx, hold); err != nil {
		t.Fatalf("Append(pending) failed: %v", err)
	}

	balance, _ := l.BalanceOf(ctx, wallet.ID)
	avail, _ := l.AvailableOf(ctx, wallet.ID)
	if balance != 500 {
		t.Errorf("BalanceOf = %d, want 500 (pending excluded from settled)", balance)
	}
	if avail != 200 {
		t.Errorf("AvailableOf = %d, want 200 (reservation held)", avail)
	}

	// A debit exceeding the remaining availability is rejected even though
	// the settled balance would cover it.
	_, err := l.Append(ctx, &domain.Transaction{
		AccountID: wallet.ID, Amount: -250, Type: domain.TxRedemption,
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("Append over reservation = %v, want ErrInsufficientFunds", err)
	}

	t.Run("complete settles", func(t *testing.T) {
		if err := l.CompletePending(ctx, hold.ID); err != nil {
			t.Fatalf("CompletePending failed: %v", err)
		}
		balance, _ := l.BalanceOf(ctx, wallet.ID)
		avail, _ := l.AvailableOf(ctx, wallet.ID)
		if balance != 200 || avail != 200 {
			t.Errorf("after settle: balance=%d avail=%d, want 200/200", balance, avail)
		}
		if err := l.CompletePending(ctx, hold.ID); !errors.Is(err, domain.ErrTxNotPending) {
			t.Errorf("second CompletePending = %v, want ErrTxNotPending", err)
		}
	})
}

func TestReverse(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	wallet := mustAccount(t, db, domain.KindUserWallet, "t1")

	if _, err := l.Append(ctx, &domain.Transaction{
		AccountID: wallet.ID, Amount: 500, Type: domain.TxAdjustment,
	}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	hold := &domain.Transaction{
		AccountID: wallet.ID, Amount: -300,
		Type: domain.TxRedemption, Status: domain.TxPending,
	}
	if _, err := l.Append(ctx, hold); err != nil {
		t.Fatalf("Append(pending) failed: %v", err)
	}

	if err := l.Reverse(ctx, hold.ID, "otp expired", "system"); err != nil {
		t.Fatalf("Reverse failed: %v", err)
	}

	balance, _ := l.BalanceOf(ctx, wallet.ID)
	avail, _ := l.AvailableOf(ctx, wallet.ID)
	if balance != 500 || avail != 500 {
		t.Errorf("after reverse: balance=%d avail=%d, want 500/500", balance, avail)
	}

	// The trail keeps both the revoked reservation and its reversal row.
	stmt, err := l.Statement(ctx, wallet.ID, 10)
	if err != nil {
		t.Fatalf("Statement failed: %v", err)
	}
	var sawRevoked, sawReversal bool
	for _, tx := range stmt {
		if tx.ID == hold.ID && tx.Status == domain.TxRevoked {
			sawRevoked = true
		}
		if tx.Type == domain.TxReversal {
			sawReversal = true
		}
	}
	if !sawRevoked || !sawReversal {
		t.Errorf("statement revoked=%v reversal=%v, want both recorded", sawRevoked, sawReversal)
	}

	if err := l.Reverse(ctx, hold.ID, "again", "system"); !errors.Is(err, domain.ErrTxNotPending) {
		t.Errorf("second Reverse = %v, want ErrTxNotPending", err)
	}
}

func TestAppendAdjustmentOverdraft(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	wallet := mustAccount(t, db, domain.KindUserWallet, "t1")

	if _, err := l.AppendAdjustment(ctx, &domain.Transaction{
		AccountID: wallet.ID, Amount: -50, CreatedBy: "ops",
	}); err != nil {
		t.Fatalf("AppendAdjustment failed: %v", err)
	}
	got, _ := l.BalanceOf(ctx, wallet.ID)
	if got != -50 {
		t.Errorf("BalanceOf = %d, want -50 (override may overdraw)", got)
	}
}

func TestAppendPair(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	pool := mustAccount(t, db, domain.KindTenantPool, "t1")
	dept := mustAccount(t, db, domain.KindDepartmentBudget, "t1")

	if _, err := l.Append(ctx, &domain.Transaction{
		AccountID: pool.ID, Amount: 1000, Type: domain.TxAdjustment,
	}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	debit := &domain.Transaction{AccountID: pool.ID, CounterAccountID: dept.ID, Amount: -600, Type: domain.TxDelegation, OpID: "op-x"}
	credit := &domain.Transaction{AccountID: dept.ID, CounterAccountID: pool.ID, Amount: 600, Type: domain.TxDelegation, OpID: "op-x"}
	if err := l.AppendPair(ctx, debit, credit); err != nil {
		t.Fatalf("AppendPair failed: %v", err)
	}

	poolBal, _ := l.BalanceOf(ctx, pool.ID)
	deptBal, _ := l.BalanceOf(ctx, dept.ID)
	if poolBal != 400 || deptBal != 600 {
		t.Errorf("balances = %d/%d, want 400/600", poolBal, deptBal)
	}
	if poolBal+deptBal != 1000 {
		t.Errorf("system total = %d, want 1000 (transfers conserve points)", poolBal+deptBal)
	}

	// Debit leg is balance-checked.
	over := &domain.Transaction{AccountID: pool.ID, CounterAccountID: dept.ID, Amount: -900, Type: domain.TxDelegation, OpID: "op-y"}
	overCr := &domain.Transaction{AccountID: dept.ID, CounterAccountID: pool.ID, Amount: 900, Type: domain.TxDelegation, OpID: "op-y"}
	if err := l.AppendPair(ctx, over, overCr); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Errorf("AppendPair = %v, want ErrInsufficientFunds", err)
	}
}

func TestConcurrentDebits(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	wallet := mustAccount(t, db, domain.KindUserWallet, "t1")

	if _, err := l.Append(ctx, &domain.Transaction{
		AccountID: wallet.ID, Amount: 100, Type: domain.TxAdjustment,
	}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// 20 goroutines race to debit 10 each from a balance of 100. Exactly 10
	// may succeed; the balance must never go negative.
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, &domain.Transaction{
				AccountID: wallet.ID, Amount: -10, Type: domain.TxRedemption,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Errorf("succeeded = %d, want exactly 10", succeeded)
	}
	got, _ := l.BalanceOf(ctx, wallet.ID)
	if got != 0 {
		t.Errorf("BalanceOf = %d, want 0", got)
	}
}

func TestExpireInactive(t *testing.T) {
	l, db := newTestLedger(t)
	ctx := context.Background()
	stale := mustAccount(t, db, domain.KindUserWallet, "t1")
	fresh := mustAccount(t, db, domain.KindUserWallet, "t1")

	for _, w := range []*domain.Account{stale, fresh} {
		if _, err := l.Append(ctx, &domain.Transaction{
			AccountID: w.ID, Amount: 200, Type: domain.TxAdjustment,
		}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	// Cutoff in the future makes both wallets stale; cutoff in the past
	// expires neither.
	n, err := l.ExpireInactive(ctx, "t1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ExpireInactive failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expired = %d, want 0 for past cutoff", n)
	}

	n, err = l.ExpireInactive(ctx, "t1", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ExpireInactive failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expired = %d, want 2", n)
	}

	got, _ := l.BalanceOf(ctx, stale.ID)
	if got != 0 {
		t.Errorf("BalanceOf after expiry = %d, want 0", got)
	}
}
