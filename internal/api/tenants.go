package api

import (
	"net/http"
	"strings"

	"github.com/laurelhq/laurel/internal/auth"
)

// ─── Tenant Administration ──────────────────────────────────────────────────

// handleGetWhitelist returns the actor's tenant email domain whitelist.
func (s *Server) handleGetWhitelist(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	if err := s.guard.Authorize(actor, auth.ActionManageTenant, actor.TenantID); err != nil {
		writeDomainError(w, err)
		return
	}

	tenant, err := s.store.GetTenant(r.Context(), actor.TenantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	domains := tenant.DomainWhitelist
	if domains == nil {
		domains = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"domains": domains})
}

type whitelistRequest struct {
	Domains []string `json:"domains"`
}

// handleSetWhitelist replaces the tenant's domain whitelist. Domains are
// normalized to lowercase; blanks are dropped.
func (s *Server) handleSetWhitelist(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	if err := s.guard.Authorize(actor, auth.ActionManageTenant, actor.TenantID); err != nil {
		writeDomainError(w, err)
		return
	}

	var req whitelistRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	domains := make([]string, 0, len(req.Domains))
	for _, d := range req.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		domains = append(domains, d)
	}

	if err := s.store.SetDomainWhitelist(r.Context(), actor.TenantID, domains); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"domains": domains})
}

type inviteRequest struct {
	Role  string `json:"role"`
	Hours int    `json:"hours"`
}

// handleInviteLink mints a signed invite token for the actor's tenant. With
// ?format=qr the response is a QR code PNG of the join link instead of JSON.
func (s *Server) handleInviteLink(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	if err := s.guard.Authorize(actor, auth.ActionInviteUsers, actor.TenantID); err != nil {
		writeDomainError(w, err)
		return
	}

	// The body is optional; role and validity can come from query params.
	var req inviteRequest
	_ = decode(r, &req)
	if req.Role == "" {
		req.Role = r.URL.Query().Get("role")
	}
	if hours := queryInt(r, "hours", 0); hours > 0 {
		req.Hours = hours
	}

	token, err := s.invites.Generate(actor.TenantID, auth.Role(req.Role), req.Hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate invite")
		return
	}

	if r.URL.Query().Get("format") == "qr" {
		png, err := s.invites.QRPNG(token)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to render QR code")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"token": token,
		"link":  s.invites.Link(token),
	})
}
