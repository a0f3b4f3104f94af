// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import "time"

// ─── Account Types ──────────────────────────────────────────────────────────

// AccountKind identifies the tier an account occupies in the delegation
// hierarchy. The hierarchy is strictly tiered: points only move one tier at
// a time, downward via delegation and upward via clawback.
type AccountKind string

const (
	KindPlatformPool     AccountKind = "PLATFORM_POOL"
	KindTenantPool       AccountKind = "TENANT_POOL"
	KindDepartmentBudget AccountKind = "DEPARTMENT_BUDGET"
	KindLeadAllocation   AccountKind = "LEAD_ALLOCATION"
	KindUserWallet       AccountKind = "USER_WALLET"
)

// tierOrder maps each kind to its depth in the hierarchy.
var tierOrder = map[AccountKind]int{
	KindPlatformPool:     0,
	KindTenantPool:       1,
	KindDepartmentBudget: 2,
	KindLeadAllocation:   3,
	KindUserWallet:       4,
}

// Valid reports whether k is a known account kind.
func (k AccountKind) Valid() bool {
	_, ok := tierOrder[k]
	return ok
}

// ChildKind returns the only kind an account of kind k may delegate to.
// The second return is false for USER_WALLET (terminal tier) and unknown kinds.
func (k AccountKind) ChildKind() (AccountKind, bool) {
	switch k {
	case KindPlatformPool:
		return KindTenantPool, true
	case KindTenantPool:
		return KindDepartmentBudget, true
	case KindDepartmentBudget:
		return KindLeadAllocation, true
	case KindLeadAllocation:
		return KindUserWallet, true
	default:
		return "", false
	}
}

// Tier returns the depth of k in the hierarchy (platform pool = 0).
// Unknown kinds return -1.
func (k AccountKind) Tier() int {
	if t, ok := tierOrder[k]; ok {
		return t
	}
	return -1
}

// Account is a holder of points at one tier of the tenant hierarchy.
// The balance is never stored: it is always projected from the account's
// transaction log.
type Account struct {
	ID        string      `json:"id"`
	Kind      AccountKind `json:"kind"`
	TenantID  string      `json:"tenant_id,omitempty"` // empty for the platform pool
	OwnerRef  string      `json:"owner_ref,omitempty"` // department/lead/user reference
	CreatedAt time.Time   `json:"created_at"`
}

// ─── Tenant ─────────────────────────────────────────────────────────────────

// Tenant is an organization on the platform. Every non-platform account is
// scoped to exactly one tenant.
type Tenant struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	DomainWhitelist []string  `json:"domain_whitelist,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
