// Package delegation implements the hierarchical budget engine.
//
// Points flow down a strict tier chain
//
//	PLATFORM_POOL → TENANT_POOL → DEPARTMENT_BUDGET → LEAD_ALLOCATION → USER_WALLET
//
// and only between adjacent tiers. Every movement is a pair of ledger
// entries (a debit on the parent, a credit on the child) sharing one
// operation id and committed in a single storage transaction, so the system
// total is conserved by construction. The engine additionally maintains the
// delegation relationship (allocated / spent / monthly cap) between each
// parent-child pair.
package delegation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/laurelhq/laurel/internal/app/ledger"
	"github.com/laurelhq/laurel/internal/domain"
	"github.com/laurelhq/laurel/internal/infra/observability"
)

// Store is the persistence surface the engine needs beyond the ledger.
type Store interface {
	domain.AccountStore
	domain.DelegationStore
	domain.TransactionStore
}

// Engine validates hierarchy edges and drives paired ledger writes.
type Engine struct {
	store  Store
	ledger *ledger.Ledger
	log    *slog.Logger
}

// New creates a delegation engine.
func New(store Store, l *ledger.Ledger, log *slog.Logger) *Engine {
	return &Engine{store: store, ledger: l, log: log.With("component", "delegation")}
}

// checkEdge loads both accounts and enforces tier adjacency and tenant
// scoping. The platform pool has no tenant, so edges from it skip the
// tenant-match check.
func (e *Engine) checkEdge(ctx context.Context, parentID, childID string) (parent, child *domain.Account, err error) {
	parent, err = e.store.GetAccount(ctx, parentID)
	if err != nil {
		return nil, nil, err
	}
	child, err = e.store.GetAccount(ctx, childID)
	if err != nil {
		return nil, nil, err
	}

	want, ok := parent.Kind.ChildKind()
	if !ok || child.Kind != want {
		return nil, nil, domain.ErrInvalidHierarchyEdge
	}
	if parent.Kind != domain.KindPlatformPool && parent.TenantID != child.TenantID {
		return nil, nil, domain.ErrTenantMismatch
	}
	return parent, child, nil
}

// pair builds the two legs of a transfer sharing one operation id.
func pair(parentID, childID string, amount int64, txType domain.TransactionType, note, actor string) (debit, credit *domain.Transaction) {
	opID := uuid.NewString()
	debit = &domain.Transaction{
		AccountID:        parentID,
		CounterAccountID: childID,
		Amount:           -amount,
		Type:             txType,
		OpID:             opID,
		ReferenceNote:    note,
		CreatedBy:        actor,
	}
	credit = &domain.Transaction{
		AccountID:        childID,
		CounterAccountID: parentID,
		Amount:           amount,
		Type:             txType,
		OpID:             opID,
		ReferenceNote:    note,
		CreatedBy:        actor,
	}
	return debit, credit
}

// spentUpdate builds the SpentAmount adjustment for the delegation edge
// coming into accountID, or nil when the account has no incoming edge (the
// platform pool, or a pool funded directly by injection).
func (e *Engine) spentUpdate(ctx context.Context, accountID string, delta int64) (*domain.DelegationUpdate, error) {
	incoming, err := e.store.GetDelegationByChild(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if incoming == nil {
		return nil, nil
	}
	return &domain.DelegationUpdate{
		ParentAccountID: incoming.ParentAccountID,
		ChildAccountID:  accountID,
		SpentDelta:      delta,
	}, nil
}

// ─── Operations ─────────────────────────────────────────────────────────────

// Delegate moves amount from a parent account to a child one tier down and
// grows the child's allocation by the same amount.
func (e *Engine) Delegate(ctx context.Context, parentID, childID string, amount int64, note, actor string) error {
	if amount <= 0 {
		return domain.ErrAmountNotPositive
	}
	if _, _, err := e.checkEdge(ctx, parentID, childID); err != nil {
		return err
	}

	debit, credit := pair(parentID, childID, amount, domain.TxDelegation, note, actor)
	upds := []*domain.DelegationUpdate{{
		ParentAccountID: parentID,
		ChildAccountID:  childID,
		AllocatedDelta:  amount,
	}}
	// Delegating further down spends the parent's own allocation, which
	// shrinks what the grandparent may still recall from it.
	spent, err := e.spentUpdate(ctx, parentID, amount)
	if err != nil {
		return err
	}
	if spent != nil {
		upds = append(upds, spent)
	}
	if err := e.ledger.AppendPair(ctx, debit, credit, upds...); err != nil {
		return err
	}

	observability.DelegationsTotal.WithLabelValues("delegate").Inc()
	observability.DelegationPoints.WithLabelValues("delegate").Add(float64(amount))
	e.log.Info("points delegated",
		"op_id", debit.OpID, "parent", parentID, "child", childID,
		"amount", amount, "actor", actor)
	return nil
}

// Recall claws back amount from a child to its parent. Only the unspent
// portion of the allocation may be recalled; what the child has passed
// further down is no longer the parent's to take. The child must also still
// hold the points, which the debit leg's balance check enforces.
func (e *Engine) Recall(ctx context.Context, parentID, childID string, amount int64, note, actor string) error {
	if amount <= 0 {
		return domain.ErrAmountNotPositive
	}
	if _, _, err := e.checkEdge(ctx, parentID, childID); err != nil {
		return err
	}

	rel, err := e.store.GetDelegation(ctx, parentID, childID)
	if err != nil {
		return err
	}
	if amount > rel.Unspent() {
		return domain.ErrOverRecall
	}

	// The clawback debits the child and credits the parent, and shrinks the
	// allocation back down. Recovered points also un-spend the parent's own
	// allocation.
	debit, credit := pair(childID, parentID, amount, domain.TxClawback, note, actor)
	upds := []*domain.DelegationUpdate{{
		ParentAccountID: parentID,
		ChildAccountID:  childID,
		AllocatedDelta:  -amount,
	}}
	unspent, err := e.spentUpdate(ctx, parentID, -amount)
	if err != nil {
		return err
	}
	if unspent != nil {
		upds = append(upds, unspent)
	}
	if err := e.ledger.AppendPair(ctx, debit, credit, upds...); err != nil {
		return err
	}

	observability.DelegationsTotal.WithLabelValues("recall").Inc()
	observability.DelegationPoints.WithLabelValues("recall").Add(float64(amount))
	e.log.Info("points recalled",
		"op_id", debit.OpID, "parent", parentID, "child", childID,
		"amount", amount, "actor", actor)
	return nil
}

// Award moves amount from a lead allocation to a user wallet as peer
// recognition. When the lead's allocation carries a monthly cap, awards made
// since the start of the calendar month (UTC) count against it.
func (e *Engine) Award(ctx context.Context, leadAllocID, walletID string, amount int64, note, actor string) error {
	if amount <= 0 {
		return domain.ErrAmountNotPositive
	}
	if _, _, err := e.checkEdge(ctx, leadAllocID, walletID); err != nil {
		return err
	}

	rel, err := e.store.GetDelegationByChild(ctx, leadAllocID)
	if err != nil {
		return err
	}
	if rel != nil && rel.MonthlyCap > 0 {
		now := time.Now().UTC()
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		// The cap limits what the lead gives out, so the measure is the lead
		// allocation's own award debits this month (a negative sum).
		awarded, err := e.store.SumTypeSince(ctx, leadAllocID, domain.TxRecognitionAward, monthStart)
		if err != nil {
			return err
		}
		if -awarded+amount > rel.MonthlyCap {
			return domain.ErrMonthlyCapExceeded
		}
	}

	// Awards spend the lead's allocation on its incoming edge. No edge is
	// tracked toward the wallet; wallets are never recalled from.
	debit, credit := pair(leadAllocID, walletID, amount, domain.TxRecognitionAward, note, actor)
	var upds []*domain.DelegationUpdate
	if rel != nil {
		upds = append(upds, &domain.DelegationUpdate{
			ParentAccountID: rel.ParentAccountID,
			ChildAccountID:  leadAllocID,
			SpentDelta:      amount,
		})
	}
	if err := e.ledger.AppendPair(ctx, debit, credit, upds...); err != nil {
		return err
	}

	observability.DelegationsTotal.WithLabelValues("award").Inc()
	observability.DelegationPoints.WithLabelValues("award").Add(float64(amount))
	e.log.Info("recognition awarded",
		"op_id", debit.OpID, "from", leadAllocID, "to", walletID,
		"amount", amount, "actor", actor)
	return nil
}

// Inject mints amount into a platform pool. This is the only operation that
// changes the system total; everything downstream is conservation-checked
// transfers.
func (e *Engine) Inject(ctx context.Context, platformPoolID string, amount int64, note, actor string) (string, error) {
	if amount <= 0 {
		return "", domain.ErrAmountNotPositive
	}
	acct, err := e.store.GetAccount(ctx, platformPoolID)
	if err != nil {
		return "", err
	}
	if acct.Kind != domain.KindPlatformPool {
		return "", domain.ErrInvalidHierarchyEdge
	}

	txID, err := e.ledger.Append(ctx, &domain.Transaction{
		AccountID:     platformPoolID,
		Amount:        amount,
		Type:          domain.TxCreditInjection,
		ReferenceNote: note,
		CreatedBy:     actor,
	})
	if err != nil {
		return "", err
	}

	observability.DelegationsTotal.WithLabelValues("inject").Inc()
	observability.DelegationPoints.WithLabelValues("inject").Add(float64(amount))
	e.log.Info("credits injected", "pool", platformPoolID, "amount", amount, "actor", actor)
	return txID, nil
}

// SetMonthlyCap sets (or clears, with 0) the monthly award cap on the
// delegation edge between parent and child.
func (e *Engine) SetMonthlyCap(ctx context.Context, parentID, childID string, cap int64, actor string) error {
	if cap < 0 {
		return domain.ErrAmountNotPositive
	}
	if _, _, err := e.checkEdge(ctx, parentID, childID); err != nil {
		return err
	}
	if err := e.store.SetMonthlyCap(ctx, parentID, childID, cap); err != nil {
		return err
	}
	e.log.Info("monthly cap set", "parent", parentID, "child", childID, "cap", cap, "actor", actor)
	return nil
}
