package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/laurelhq/laurel/internal/auth"
	"github.com/laurelhq/laurel/internal/domain"
)

type initiateRequest struct {
	WalletAccountID string          `json:"wallet_account_id"`
	ItemType        domain.ItemType `json:"item_type"`
	ItemRef         string          `json:"item_ref"`
	PointCost       int64           `json:"point_cost"`
}

// handleRedeemInitiate starts a redemption on the actor's own wallet. The
// plaintext OTP is returned in the response for out-of-band delivery; it is
// never stored or retrievable again.
func (s *Server) handleRedeemInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	acct, ok := s.authorizeAccount(w, r, auth.ActionRedeem, req.WalletAccountID)
	if !ok {
		return
	}
	actor := auth.ActorFrom(r.Context())
	// Users redeem from their own wallet only.
	if acct.OwnerRef != actor.UserID && actor.ActiveRole != auth.RolePlatformAdmin {
		writeDomainError(w, domain.ErrUnauthorized)
		return
	}

	red, otp, err := s.machine.Initiate(r.Context(), actor.UserID, req.WalletAccountID, req.ItemType, req.ItemRef, req.PointCost)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"redemption": red,
		"otp":        otp,
	})
}

type verifyOTPRequest struct {
	RedemptionID string `json:"redemption_id"`
	Code         string `json:"code"`
}

// handleRedeemVerifyOTP checks the submitted code.
func (s *Server) handleRedeemVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.ownRedemption(w, r, req.RedemptionID); !ok {
		return
	}

	red, err := s.machine.VerifyOTP(r.Context(), req.RedemptionID, req.Code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"redemption": red})
}

// handleRedeemDelivery attaches shipping details to a MERCH redemption.
func (s *Server) handleRedeemDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.ownRedemption(w, r, id); !ok {
		return
	}

	var details domain.DeliveryDetails
	if err := decode(r, &details); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	red, err := s.machine.SubmitDeliveryDetails(r.Context(), id, &details)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"redemption": red})
}

// handleRedeemGet polls a redemption.
func (s *Server) handleRedeemGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	red, ok := s.ownRedemption(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"redemption": red})
}

// handleRedeemList returns the actor's recent redemptions.
func (s *Server) handleRedeemList(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFrom(r.Context())
	if err := s.guard.Authorize(actor, auth.ActionRedeem, ""); err != nil {
		writeDomainError(w, err)
		return
	}
	reds, err := s.machine.ListByUser(r.Context(), actor.UserID, queryInt(r, "limit", 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if reds == nil {
		reds = []domain.Redemption{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"redemptions": reds})
}

// ownRedemption loads the redemption and checks it belongs to the actor.
// Platform admins may inspect any redemption.
func (s *Server) ownRedemption(w http.ResponseWriter, r *http.Request, id string) (*domain.Redemption, bool) {
	red, err := s.machine.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	actor := auth.ActorFrom(r.Context())
	if actor == nil {
		writeDomainError(w, domain.ErrUnauthorized)
		return nil, false
	}
	if red.UserID != actor.UserID && actor.ActiveRole != auth.RolePlatformAdmin {
		writeDomainError(w, domain.ErrUnauthorized)
		return nil, false
	}
	return red, true
}
