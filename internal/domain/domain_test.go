package domain

import (
	"testing"
)

// ─── AccountKind Tests ──────────────────────────────────────────────────────

func TestAccountKind_ChildKind(t *testing.T) {
	tests := []struct {
		name   string
		kind   AccountKind
		want   AccountKind
		wantOK bool
	}{
		{"platform delegates to tenant", KindPlatformPool, KindTenantPool, true},
		{"tenant delegates to department", KindTenantPool, KindDepartmentBudget, true},
		{"department delegates to lead", KindDepartmentBudget, KindLeadAllocation, true},
		{"lead delegates to wallet", KindLeadAllocation, KindUserWallet, true},
		{"wallet is terminal", KindUserWallet, "", false},
		{"unknown kind", AccountKind("BOGUS"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.kind.ChildKind()
			if ok != tt.wantOK {
				t.Fatalf("ChildKind() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ChildKind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAccountKind_Tier(t *testing.T) {
	if got := KindPlatformPool.Tier(); got != 0 {
		t.Errorf("platform pool tier = %d, want 0", got)
	}
	if got := KindUserWallet.Tier(); got != 4 {
		t.Errorf("user wallet tier = %d, want 4", got)
	}
	if got := AccountKind("BOGUS").Tier(); got != -1 {
		t.Errorf("unknown kind tier = %d, want -1", got)
	}
}

// ─── Transaction Tests ──────────────────────────────────────────────────────

func TestTransaction_IsDebit(t *testing.T) {
	debit := Transaction{Amount: -100}
	credit := Transaction{Amount: 100}
	if !debit.IsDebit() {
		t.Error("negative amount should be a debit")
	}
	if credit.IsDebit() {
		t.Error("positive amount should not be a debit")
	}
}

func TestDelegation_Unspent(t *testing.T) {
	d := Delegation{AllocatedAmount: 5000, SpentAmount: 1200}
	if got := d.Unspent(); got != 3800 {
		t.Errorf("Unspent() = %d, want 3800", got)
	}
}

// ─── Redemption State Machine Tests ─────────────────────────────────────────

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RedemptionStatus
		want     bool
	}{
		{RedemptionInitiated, RedemptionOTPPending, true},
		{RedemptionOTPPending, RedemptionOTPVerified, true},
		{RedemptionOTPPending, RedemptionFailed, true},
		{RedemptionOTPVerified, RedemptionAwaitingDelivery, true},
		{RedemptionOTPVerified, RedemptionProcessing, true},
		{RedemptionOTPPending, RedemptionProcessing, false},
		{RedemptionOTPPending, RedemptionAwaitingDelivery, false},
		{RedemptionAwaitingDelivery, RedemptionProcessing, true},
		{RedemptionProcessing, RedemptionCompleted, true},
		{RedemptionProcessing, RedemptionFailed, true},
		{RedemptionCompleted, RedemptionFailed, false},
		{RedemptionFailed, RedemptionProcessing, false},
		{RedemptionProcessing, RedemptionOTPPending, false},
		{RedemptionInitiated, RedemptionCompleted, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRedemptionStatus_Terminal(t *testing.T) {
	if !RedemptionCompleted.Terminal() || !RedemptionFailed.Terminal() {
		t.Error("COMPLETED and FAILED should be terminal")
	}
	if RedemptionProcessing.Terminal() {
		t.Error("PROCESSING should not be terminal")
	}
}

// ─── Delivery Details Tests ─────────────────────────────────────────────────

func TestDeliveryDetails_Validate(t *testing.T) {
	valid := DeliveryDetails{
		FullName:     "Asha Rao",
		PhoneNumber:  "9876543210",
		AddressLine1: "42 MG Road",
		City:         "Bengaluru",
		Pincode:      "560001",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	tests := []struct {
		name   string
		mutate func(*DeliveryDetails)
	}{
		{"missing name", func(d *DeliveryDetails) { d.FullName = "" }},
		{"missing phone", func(d *DeliveryDetails) { d.PhoneNumber = "  " }},
		{"missing address", func(d *DeliveryDetails) { d.AddressLine1 = "" }},
		{"missing city", func(d *DeliveryDetails) { d.City = "" }},
		{"missing pincode", func(d *DeliveryDetails) { d.Pincode = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			if err := d.Validate(); err != ErrIncompleteDeliveryDetails {
				t.Errorf("Validate() = %v, want ErrIncompleteDeliveryDetails", err)
			}
		})
	}

	var nilDetails *DeliveryDetails
	if err := nilDetails.Validate(); err != ErrIncompleteDeliveryDetails {
		t.Errorf("nil details Validate() = %v, want ErrIncompleteDeliveryDetails", err)
	}
}
