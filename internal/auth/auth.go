// Package auth implements role capabilities, tenant scoping and JWT bearer
// authentication.
//
// Authorization is declarative: a role maps to the set of actions it may
// perform, and every action on a tenant-owned resource additionally requires
// the actor's tenant to match. Platform administrators are the only
// cross-tenant role.
package auth

import (
	"github.com/laurelhq/laurel/internal/domain"
)

// Role is a persona a user can act as.
type Role string

const (
	RolePlatformAdmin Role = "platform_admin"
	RoleHRAdmin       Role = "hr_admin"
	RoleDeptLead      Role = "dept_lead"
	RoleUser          Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePlatformAdmin, RoleHRAdmin, RoleDeptLead, RoleUser:
		return true
	}
	return false
}

// Action is a named operation subject to authorization.
type Action string

const (
	ActionInjectCredits  Action = "points.inject"
	ActionAllocateTenant Action = "points.allocate_tenant"
	ActionDelegate       Action = "points.delegate"
	ActionRecall         Action = "points.recall"
	ActionAward          Action = "points.award"
	ActionAdjust         Action = "points.adjust"
	ActionViewBalance    Action = "accounts.view_balance"
	ActionViewStatement  Action = "accounts.view_statement"
	ActionRedeem         Action = "redemptions.redeem"
	ActionViewDashboard  Action = "dashboard.view"
	ActionManageTenant   Action = "tenants.manage"
	ActionInviteUsers    Action = "tenants.invite"
)

// capabilities is the role → allowed-actions table. Anything absent is
// denied.
var capabilities = map[Role]map[Action]bool{
	RolePlatformAdmin: {
		ActionInjectCredits:  true,
		ActionAllocateTenant: true,
		ActionDelegate:       true,
		ActionRecall:         true,
		ActionAdjust:         true,
		ActionViewBalance:    true,
		ActionViewStatement:  true,
		ActionViewDashboard:  true,
		ActionManageTenant:   true,
		ActionInviteUsers:    true,
	},
	RoleHRAdmin: {
		ActionDelegate:      true,
		ActionRecall:        true,
		ActionViewBalance:   true,
		ActionViewStatement: true,
		ActionViewDashboard: true,
		ActionManageTenant:  true,
		ActionInviteUsers:   true,
	},
	RoleDeptLead: {
		ActionDelegate:      true,
		ActionRecall:        true,
		ActionAward:         true,
		ActionViewBalance:   true,
		ActionViewStatement: true,
		ActionViewDashboard: true,
	},
	RoleUser: {
		ActionViewBalance:   true,
		ActionViewStatement: true,
		ActionRedeem:        true,
	},
}

// Can reports whether the role may perform the action.
func (r Role) Can(action Action) bool { return capabilities[r][action] }

// Actor is the authenticated principal attached to a request.
type Actor struct {
	UserID         string `json:"user_id"`
	TenantID       string `json:"tenant_id"`
	ActiveRole     Role   `json:"active_role"`
	AvailableRoles []Role `json:"available_roles"`
}

// HasRole reports whether the role is among the actor's available personas.
func (a *Actor) HasRole(r Role) bool {
	for _, have := range a.AvailableRoles {
		if have == r {
			return true
		}
	}
	return false
}

// Guard performs capability and tenancy checks.
type Guard struct{}

// NewGuard creates a guard.
func NewGuard() *Guard { return &Guard{} }

// Authorize checks that the actor's active role carries the action and, when
// resourceTenantID is non-empty, that the actor belongs to that tenant.
// Platform administrators cross tenant boundaries.
func (g *Guard) Authorize(actor *Actor, action Action, resourceTenantID string) error {
	if actor == nil || !actor.ActiveRole.Valid() {
		return domain.ErrUnauthorized
	}
	if !actor.ActiveRole.Can(action) {
		return domain.ErrUnauthorized
	}
	if resourceTenantID != "" && actor.ActiveRole != RolePlatformAdmin &&
		actor.TenantID != resourceTenantID {
		return domain.ErrTenantMismatch
	}
	return nil
}
