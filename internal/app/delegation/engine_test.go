package delegation

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/laurelhq/laurel/internal/app/ledger"
	"github.com/laurelhq/laurel/internal/domain"
	"github.com/laurelhq/laurel/internal/infra/sqlite"
)

type fixture struct {
	engine *Engine
	ledger *ledger.Ledger
	db     *sqlite.DB

	platform *domain.Account
	tenant   *domain.Account
	dept     *domain.Account
	lead     *domain.Account
	wallet   *domain.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "delegation-test.db"))
	if err != nil {
		t.Fatalf("sqlite.New failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	l := ledger.New(db, slog.Default())
	f := &fixture{engine: New(db, l, slog.Default()), ledger: l, db: db}

	ctx := context.Background()
	accounts := []struct {
		dst  **domain.Account
		kind domain.AccountKind
		tid  string
	}{
		{&f.platform, domain.KindPlatformPool, ""},
		{&f.tenant, domain.KindTenantPool, "t1"},
		{&f.dept, domain.KindDepartmentBudget, "t1"},
		{&f.lead, domain.KindLeadAllocation, "t1"},
		{&f.wallet, domain.KindUserWallet, "t1"},
	}
	for _, a := range accounts {
		acct := &domain.Account{Kind: a.kind, TenantID: a.tid}
		if err := db.CreateAccount(ctx, acct); err != nil {
			t.Fatalf("CreateAccount(%s) failed: %v", a.kind, err)
		}
		*a.dst = acct
	}
	return f
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), id)
	if err != nil {
		t.Fatalf("BalanceOf failed: %v", err)
	}
	return b
}

func TestInject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Inject(ctx, f.platform.ID, 100_000, "quarterly top-up", "admin"); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	if got := f.balance(t, f.platform.ID); got != 100_000 {
		t.Errorf("platform balance = %d, want 100000", got)
	}

	t.Run("non-pool target rejected", func(t *testing.T) {
		_, err := f.engine.Inject(ctx, f.tenant.ID, 100, "", "admin")
		if !errors.Is(err, domain.ErrInvalidHierarchyEdge) {
			t.Errorf("Inject = %v, want ErrInvalidHierarchyEdge", err)
		}
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		_, err := f.engine.Inject(ctx, f.platform.ID, 0, "", "admin")
		if !errors.Is(err, domain.ErrAmountNotPositive) {
			t.Errorf("Inject = %v, want ErrAmountNotPositive", err)
		}
	})
}

func TestDelegateHierarchy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Inject(ctx, f.platform.ID, 10_000, "", "admin"); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}

	tests := []struct {
		name    string
		parent  string
		child   string
		wantErr error
	}{
		{"platform to tenant", f.platform.ID, f.tenant.ID, nil},
		{"tier skip rejected", f.platform.ID, f.dept.ID, domain.ErrInvalidHierarchyEdge},
		{"inverted edge rejected", f.dept.ID, f.tenant.ID, domain.ErrInvalidHierarchyEdge},
		{"tenant to department", f.tenant.ID, f.dept.ID, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.engine.Delegate(ctx, tt.parent, tt.child, 1000, "", "admin")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Delegate = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("cross-tenant rejected", func(t *testing.T) {
		other := &domain.Account{Kind: domain.KindDepartmentBudget, TenantID: "t2"}
		if err := f.db.CreateAccount(ctx, other); err != nil {
			t.Fatalf("CreateAccount failed: %v", err)
		}
		err := f.engine.Delegate(ctx, f.tenant.ID, other.ID, 100, "", "admin")
		if !errors.Is(err, domain.ErrTenantMismatch) {
			t.Errorf("Delegate = %v, want ErrTenantMismatch", err)
		}
	})

	t.Run("insufficient parent funds", func(t *testing.T) {
		err := f.engine.Delegate(ctx, f.tenant.ID, f.dept.ID, 50_000, "", "admin")
		if !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Errorf("Delegate = %v, want ErrInsufficientFunds", err)
		}
	})
}

// TestBudgetScenario walks the canonical flow: a 100k tenant pool funds a
// department, the department funds a lead, the lead recognizes a user, and
// the tenant recalls what is left. Totals are conserved at every step.
func TestBudgetScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	total := func() int64 {
		return f.balance(t, f.platform.ID) + f.balance(t, f.tenant.ID) +
			f.balance(t, f.dept.ID) + f.balance(t, f.lead.ID) + f.balance(t, f.wallet.ID)
	}

	if _, err := f.engine.Inject(ctx, f.platform.ID, 100_000, "", "admin"); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	if err := f.engine.Delegate(ctx, f.platform.ID, f.tenant.ID, 100_000, "", "admin"); err != nil {
		t.Fatalf("Delegate platform→tenant failed: %v", err)
	}
	if err := f.engine.Delegate(ctx, f.tenant.ID, f.dept.ID, 30_000, "q3 budget", "hr"); err != nil {
		t.Fatalf("Delegate tenant→dept failed: %v", err)
	}
	if err := f.engine.Delegate(ctx, f.dept.ID, f.lead.ID, 10_000, "", "hr"); err != nil {
		t.Fatalf("Delegate dept→lead failed: %v", err)
	}
	if err := f.engine.Award(ctx, f.lead.ID, f.wallet.ID, 2_000, "great launch", "lead"); err != nil {
		t.Fatalf("Award failed: %v", err)
	}

	if got := f.balance(t, f.tenant.ID); got != 70_000 {
		t.Errorf("tenant balance = %d, want 70000", got)
	}
	if got := f.balance(t, f.dept.ID); got != 20_000 {
		t.Errorf("dept balance = %d, want 20000", got)
	}
	if got := f.balance(t, f.lead.ID); got != 8_000 {
		t.Errorf("lead balance = %d, want 8000", got)
	}
	if got := f.balance(t, f.wallet.ID); got != 2_000 {
		t.Errorf("wallet balance = %d, want 2000", got)
	}
	if got := total(); got != 100_000 {
		t.Errorf("system total = %d, want 100000", got)
	}

	// The department passed 10k of its 30k down to the lead, so its unspent
	// allocation is 20k. A recall of 80k exceeds that.
	t.Run("over-recall rejected", func(t *testing.T) {
		err := f.engine.Recall(ctx, f.tenant.ID, f.dept.ID, 80_000, "", "hr")
		if !errors.Is(err, domain.ErrOverRecall) {
			t.Errorf("Recall = %v, want ErrOverRecall", err)
		}
	})

	t.Run("recall within unspent succeeds", func(t *testing.T) {
		if err := f.engine.Recall(ctx, f.tenant.ID, f.dept.ID, 20_000, "q3 closeout", "hr"); err != nil {
			t.Fatalf("Recall failed: %v", err)
		}
		if got := f.balance(t, f.tenant.ID); got != 90_000 {
			t.Errorf("tenant balance = %d, want 90000", got)
		}
		if got := f.balance(t, f.dept.ID); got != 0 {
			t.Errorf("dept balance = %d, want 0", got)
		}
		if got := total(); got != 100_000 {
			t.Errorf("system total = %d, want 100000", got)
		}
	})

	t.Run("spent allocation cannot be recalled", func(t *testing.T) {
		// Everything left in the dept is gone; the 10k now below it is not
		// recallable by the tenant.
		err := f.engine.Recall(ctx, f.tenant.ID, f.dept.ID, 1, "", "hr")
		if !errors.Is(err, domain.ErrOverRecall) {
			t.Errorf("Recall = %v, want ErrOverRecall", err)
		}
	})
}

func TestAwardMonthlyCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Inject(ctx, f.platform.ID, 50_000, "", "admin"); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}
	for _, step := range []struct{ parent, child string }{
		{f.platform.ID, f.tenant.ID},
		{f.tenant.ID, f.dept.ID},
		{f.dept.ID, f.lead.ID},
	} {
		if err := f.engine.Delegate(ctx, step.parent, step.child, 20_000, "", "admin"); err != nil {
			t.Fatalf("Delegate failed: %v", err)
		}
	}

	if err := f.engine.SetMonthlyCap(ctx, f.dept.ID, f.lead.ID, 5_000, "hr"); err != nil {
		t.Fatalf("SetMonthlyCap failed: %v", err)
	}

	if err := f.engine.Award(ctx, f.lead.ID, f.wallet.ID, 3_000, "", "lead"); err != nil {
		t.Fatalf("Award within cap failed: %v", err)
	}
	err := f.engine.Award(ctx, f.lead.ID, f.wallet.ID, 3_000, "", "lead")
	if !errors.Is(err, domain.ErrMonthlyCapExceeded) {
		t.Errorf("Award over cap = %v, want ErrMonthlyCapExceeded", err)
	}
	if err := f.engine.Award(ctx, f.lead.ID, f.wallet.ID, 2_000, "", "lead"); err != nil {
		t.Fatalf("Award at cap boundary failed: %v", err)
	}
}
