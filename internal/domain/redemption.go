package domain

import (
	"strings"
	"time"
)

// ─── Redemption Types ───────────────────────────────────────────────────────

// ItemType distinguishes what a redemption converts points into.
type ItemType string

const (
	ItemVoucher ItemType = "VOUCHER"
	ItemMerch   ItemType = "MERCH"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool { return t == ItemVoucher || t == ItemMerch }

// RedemptionStatus is a state in the OTP-gated redemption workflow.
type RedemptionStatus string

const (
	RedemptionInitiated        RedemptionStatus = "INITIATED"
	RedemptionOTPPending       RedemptionStatus = "OTP_PENDING"
	RedemptionOTPVerified      RedemptionStatus = "OTP_VERIFIED"
	RedemptionAwaitingDelivery RedemptionStatus = "AWAITING_DELIVERY_DETAILS"
	RedemptionProcessing       RedemptionStatus = "PROCESSING"
	RedemptionCompleted        RedemptionStatus = "COMPLETED"
	RedemptionFailed           RedemptionStatus = "FAILED"
)

// Terminal reports whether s is a final state.
func (s RedemptionStatus) Terminal() bool {
	return s == RedemptionCompleted || s == RedemptionFailed
}

// validTransitions encodes the redemption state machine. FAILED is reachable
// from every non-terminal state (OTP exhaustion, expiry, fulfillment failure,
// processing timeout).
var validTransitions = map[RedemptionStatus][]RedemptionStatus{
	RedemptionInitiated:        {RedemptionOTPPending, RedemptionFailed},
	RedemptionOTPPending:       {RedemptionOTPVerified, RedemptionFailed},
	RedemptionOTPVerified:      {RedemptionAwaitingDelivery, RedemptionProcessing, RedemptionFailed},
	RedemptionAwaitingDelivery: {RedemptionProcessing, RedemptionFailed},
	RedemptionProcessing:       {RedemptionCompleted, RedemptionFailed},
}

// CanTransition reports whether from → to is a legal state-machine edge.
func CanTransition(from, to RedemptionStatus) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Redemption converts wallet points into a voucher or a merchandise order.
// The reservation (a PENDING REDEMPTION debit) is held from initiation until
// a terminal state finalizes or reverses it.
type Redemption struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	WalletAccountID string            `json:"wallet_account_id"`
	ItemType        ItemType          `json:"item_type"`
	ItemRef         string            `json:"item_ref"`
	PointCost       int64             `json:"point_cost"`
	Status          RedemptionStatus  `json:"status"`
	OTPHash         string            `json:"-"` // bcrypt hash, never serialized
	OTPExpiry       time.Time         `json:"otp_expiry,omitempty"`
	OTPAttempts     int               `json:"otp_attempts"`
	DebitTxID       string            `json:"debit_tx_id,omitempty"`
	DeliveryDetails *DeliveryDetails  `json:"delivery_details,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// DeliveryDetails is the shipping information required for MERCH redemptions.
type DeliveryDetails struct {
	FullName     string `json:"full_name"`
	PhoneNumber  string `json:"phone_number"`
	AddressLine1 string `json:"address_line_1"`
	AddressLine2 string `json:"address_line_2,omitempty"`
	City         string `json:"city"`
	Pincode      string `json:"pincode"`
}

// Validate checks the required delivery fields.
func (d *DeliveryDetails) Validate() error {
	if d == nil {
		return ErrIncompleteDeliveryDetails
	}
	required := []string{d.FullName, d.PhoneNumber, d.AddressLine1, d.City, d.Pincode}
	for _, field := range required {
		if strings.TrimSpace(field) == "" {
			return ErrIncompleteDeliveryDetails
		}
	}
	return nil
}
