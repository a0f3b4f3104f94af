package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/laurelhq/laurel/internal/auth"
	"github.com/laurelhq/laurel/internal/domain"
)

// ─── Budget Operations ──────────────────────────────────────────────────────

type injectRequest struct {
	PoolAccountID string `json:"pool_account_id"`
	Amount        int64  `json:"amount"`
	Note          string `json:"note"`
}

// handleInject mints platform credits. Platform admins only.
func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	if err := s.guard.Authorize(actor, auth.ActionInjectCredits, ""); err != nil {
		writeDomainError(w, err)
		return
	}

	var req injectRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	txID, err := s.engine.Inject(r.Context(), req.PoolAccountID, req.Amount, req.Note, actor.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"transaction_id": txID})
}

type transferRequest struct {
	ParentAccountID string `json:"parent_account_id"`
	ChildAccountID  string `json:"child_account_id"`
	Amount          int64  `json:"amount"`
	Note            string `json:"note"`
}

// handleAllocateToTenant moves platform pool credits into a tenant pool.
func (s *Server) handleAllocateToTenant(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	if err := s.guard.Authorize(actor, auth.ActionAllocateTenant, ""); err != nil {
		writeDomainError(w, err)
		return
	}

	var req transferRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.engine.Delegate(r.Context(), req.ParentAccountID, req.ChildAccountID, req.Amount, req.Note, actor.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "allocated"})
}

// handleDelegate moves points one tier down within the actor's tenant.
func (s *Server) handleDelegate(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.authorizeAccount(w, r, auth.ActionDelegate, req.ParentAccountID); !ok {
		return
	}

	actor := auth.ActorFrom(r.Context())
	if err := s.engine.Delegate(r.Context(), req.ParentAccountID, req.ChildAccountID, req.Amount, req.Note, actor.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "delegated"})
}

// handleRecall claws unspent allocation back up one tier.
func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.authorizeAccount(w, r, auth.ActionRecall, req.ParentAccountID); !ok {
		return
	}

	actor := auth.ActorFrom(r.Context())
	if err := s.engine.Recall(r.Context(), req.ParentAccountID, req.ChildAccountID, req.Amount, req.Note, actor.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recalled"})
}

type recognitionRequest struct {
	LeadAccountID   string `json:"lead_account_id"`
	WalletAccountID string `json:"wallet_account_id"`
	Amount          int64  `json:"amount"`
	Note            string `json:"note"`
}

// handleRecognition awards points from a lead allocation to a user wallet.
func (s *Server) handleRecognition(w http.ResponseWriter, r *http.Request) {
	var req recognitionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.authorizeAccount(w, r, auth.ActionAward, req.LeadAccountID); !ok {
		return
	}

	actor := auth.ActorFrom(r.Context())
	if err := s.engine.Award(r.Context(), req.LeadAccountID, req.WalletAccountID, req.Amount, req.Note, actor.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "awarded"})
}

// ─── Account Queries ────────────────────────────────────────────────────────

// handleBalance returns the settled and available balance of an account.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	acct, ok := s.authorizeAccount(w, r, auth.ActionViewBalance, accountID)
	if !ok {
		return
	}

	balance, err := s.ledger.BalanceOf(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	available, err := s.ledger.AvailableOf(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": acct.ID,
		"kind":       acct.Kind,
		"balance":    balance,
		"available":  available,
	})
}

// handleStatement returns the account's transaction trail.
func (s *Server) handleStatement(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if _, ok := s.authorizeAccount(w, r, auth.ActionViewStatement, accountID); !ok {
		return
	}

	limit := queryInt(r, "limit", 100)
	txs, err := s.ledger.Statement(r.Context(), accountID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id":   accountID,
		"transactions": txs,
	})
}
