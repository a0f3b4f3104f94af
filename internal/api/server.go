// Package api provides the HTTP server for the points platform.
// It exposes the budget, recognition and redemption operations as a JSON
// REST API under /api/v1.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/laurelhq/laurel/internal/app/delegation"
	"github.com/laurelhq/laurel/internal/app/fulfillment"
	"github.com/laurelhq/laurel/internal/app/ledger"
	"github.com/laurelhq/laurel/internal/app/redemption"
	"github.com/laurelhq/laurel/internal/auth"
	"github.com/laurelhq/laurel/internal/domain"
	"github.com/laurelhq/laurel/internal/infra/observability"
)

// Store is the read surface the API needs directly (everything mutating goes
// through the app services).
type Store interface {
	domain.AccountStore
	domain.TenantStore
	domain.TransactionStore
}

// Server is the platform HTTP API server.
type Server struct {
	store     Store
	ledger    *ledger.Ledger
	engine    *delegation.Engine
	machine   *redemption.Machine
	pool      *fulfillment.Pool
	guard     *auth.Guard
	jwt       *auth.JWTManager
	invites   *auth.InviteManager
	tracer    *observability.Tracer
	metricsOn bool
}

// NewServer creates a new API server.
func NewServer(store Store, l *ledger.Ledger, e *delegation.Engine, m *redemption.Machine, p *fulfillment.Pool, jwt *auth.JWTManager, invites *auth.InviteManager, tracer *observability.Tracer) *Server {
	return &Server{
		store:   store,
		ledger:  l,
		engine:  e,
		machine: m,
		pool:    p,
		guard:   auth.NewGuard(),
		jwt:     jwt,
		invites: invites,
		tracer:  tracer,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsOn = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.metricsOn {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.RequireAuth(s.jwt))

		r.Route("/points", func(r chi.Router) {
			r.Post("/inject", s.handleInject)
			r.Post("/allocate-to-tenant", s.handleAllocateToTenant)
			r.Post("/delegate", s.handleDelegate)
			r.Post("/recall", s.handleRecall)
		})
		r.Post("/recognitions", s.handleRecognition)

		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/balance", s.handleBalance)
			r.Get("/statement", s.handleStatement)
			r.Get("/statement/export", s.handleStatementExport)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Post("/delegate-points", s.handleDashboardDelegate)
			r.Get("/summary", s.handleDashboardSummary)
		})

		r.Route("/redemptions", func(r chi.Router) {
			r.Post("/initiate", s.handleRedeemInitiate)
			r.Post("/verify-otp", s.handleRedeemVerifyOTP)
			r.Post("/delivery-details/{id}", s.handleRedeemDelivery)
			r.Get("/{id}", s.handleRedeemGet)
			r.Get("/", s.handleRedeemList)
		})

		r.Route("/tenants", func(r chi.Router) {
			r.Get("/current/domain-whitelist", s.handleGetWhitelist)
			r.Put("/current/domain-whitelist", s.handleSetWhitelist)
			r.Post("/invite-link", s.handleInviteLink)
		})

		r.Post("/auth/switch-role", s.handleSwitchRole)

		r.Get("/debug/traces", s.handleTraces)
		r.Get("/fulfillment/stats", s.handleFulfillmentStats)
	})

	return r
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body of the form {"detail": "..."}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// writeDomainError maps domain errors to HTTP statuses. Unknown errors get a
// generic 500; internal detail never crosses the boundary.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAccount),
		errors.Is(err, domain.ErrTxNotFound),
		errors.Is(err, domain.ErrRedemptionNotFound),
		errors.Is(err, domain.ErrTenantNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAmountNotPositive),
		errors.Is(err, domain.ErrInvalidItemType),
		errors.Is(err, domain.ErrIncompleteDeliveryDetails):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrInvalidHierarchyEdge),
		errors.Is(err, domain.ErrOverRecall),
		errors.Is(err, domain.ErrMonthlyCapExceeded),
		errors.Is(err, domain.ErrOtpExpired),
		errors.Is(err, domain.ErrOtpMismatch),
		errors.Is(err, domain.ErrMaxAttemptsExceeded),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrTxNotPending),
		errors.Is(err, domain.ErrDuplicateAccount):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, domain.ErrTenantMismatch):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode parses the request body into v.
func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// authorizeAccount checks the actor against an action on the given account's
// tenant and returns the account.
func (s *Server) authorizeAccount(w http.ResponseWriter, r *http.Request, action auth.Action, accountID string) (*domain.Account, bool) {
	acct, err := s.store.GetAccount(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	actor := auth.ActorFrom(r.Context())
	if err := s.guard.Authorize(actor, action, acct.TenantID); err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return acct, true
}

type switchRoleRequest struct {
	Role string `json:"role"`
}

// handleSwitchRole mints a token with a different active persona. The target
// role must already be among the actor's available roles.
func (s *Server) handleSwitchRole(w http.ResponseWriter, r *http.Request) {
	var req switchRoleRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	actor := auth.ActorFrom(r.Context())
	target := auth.Role(req.Role)
	if actor == nil || !target.Valid() || !actor.HasRole(target) {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}

	next := *actor
	next.ActiveRole = target
	token, err := s.jwt.Generate(&next)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "active_role": string(target)})
}

// handleTraces exposes the in-memory span buffer.
func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	if err := s.guard.Authorize(actor, auth.ActionManageTenant, ""); err != nil {
		writeDomainError(w, err)
		return
	}
	limit := queryInt(r, "limit", 100)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"spans": s.tracer.Spans(limit),
		"count": s.tracer.SpanCount(),
	})
}

// handleFulfillmentStats exposes worker pool counters.
func (s *Server) handleFulfillmentStats(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	if err := s.guard.Authorize(actor, auth.ActionManageTenant, ""); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pool.Stats())
}
