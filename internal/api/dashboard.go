package api

import (
	"net/http"

	"github.com/laurelhq/laurel/internal/auth"
	"github.com/laurelhq/laurel/internal/domain"
)

// ─── Dashboard ──────────────────────────────────────────────────────────────

type dashboardDelegateRequest struct {
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        int64  `json:"amount"`
	Note          string `json:"note"`
}

// handleDashboardDelegate is the admin dashboard's delegation entry point. It
// is the same operation as /points/delegate under a request shape the
// dashboard client already speaks.
func (s *Server) handleDashboardDelegate(w http.ResponseWriter, r *http.Request) {
	var req dashboardDelegateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.authorizeAccount(w, r, auth.ActionDelegate, req.FromAccountID); !ok {
		return
	}

	actor := auth.ActorFrom(r.Context())
	if err := s.engine.Delegate(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount, req.Note, actor.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "delegated"})
}

type accountSummary struct {
	AccountID string `json:"account_id"`
	OwnerRef  string `json:"owner_ref,omitempty"`
	Balance   int64  `json:"balance"`
	Available int64  `json:"available"`
}

type dashboardSummary struct {
	TenantID           string               `json:"tenant_id"`
	Pool               *accountSummary      `json:"pool,omitempty"`
	Departments        []accountSummary     `json:"departments"`
	Leads              []accountSummary     `json:"leads"`
	RecentRecognitions []domain.Transaction `json:"recent_recognitions"`
}

// handleDashboardSummary aggregates the tenant's budget tree and recent
// recognition activity into a single response for the admin dashboard.
func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	if err := s.guard.Authorize(actor, auth.ActionViewDashboard, actor.TenantID); err != nil {
		writeDomainError(w, err)
		return
	}

	ctx := r.Context()
	summary := dashboardSummary{
		TenantID:           actor.TenantID,
		Departments:        []accountSummary{},
		Leads:              []accountSummary{},
		RecentRecognitions: []domain.Transaction{},
	}

	pools, err := s.store.ListAccounts(ctx, actor.TenantID, domain.KindTenantPool)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if len(pools) > 0 {
		sm, err := s.summarize(r, pools[0])
		if err != nil {
			writeDomainError(w, err)
			return
		}
		summary.Pool = &sm
	}

	depts, err := s.store.ListAccounts(ctx, actor.TenantID, domain.KindDepartmentBudget)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, acct := range depts {
		sm, err := s.summarize(r, acct)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		summary.Departments = append(summary.Departments, sm)
	}

	leads, err := s.store.ListAccounts(ctx, actor.TenantID, domain.KindLeadAllocation)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for _, acct := range leads {
		sm, err := s.summarize(r, acct)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		summary.Leads = append(summary.Leads, sm)
	}

	recent, err := s.store.ListRecentByType(ctx, actor.TenantID, domain.TxRecognitionAward, 10)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if recent != nil {
		summary.RecentRecognitions = recent
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) summarize(r *http.Request, acct domain.Account) (accountSummary, error) {
	balance, err := s.ledger.BalanceOf(r.Context(), acct.ID)
	if err != nil {
		return accountSummary{}, err
	}
	available, err := s.ledger.AvailableOf(r.Context(), acct.ID)
	if err != nil {
		return accountSummary{}, err
	}
	return accountSummary{
		AccountID: acct.ID,
		OwnerRef:  acct.OwnerRef,
		Balance:   balance,
		Available: available,
	}, nil
}
