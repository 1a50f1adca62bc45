package authz

import "navio/services/api/internal/models"

// Action is a capability checked against a member's role.
type Action int

const (
	ViewFlow Action = iota
	CreateFlow
	ModifyOwnFlow
	ModifyAnyFlow
	DeleteAnyFlow
	ManageShare
	ViewAnalytics
	InviteMember
	CancelInvitation
	ResendInvitation
	ChangeMemberRole
	RemoveMember
	UpdateTenant
	DeleteTenant
)

var actionNames = map[Action]string{
	ViewFlow:         "view_flow",
	CreateFlow:       "create_flow",
	ModifyOwnFlow:    "modify_own_flow",
	ModifyAnyFlow:    "modify_any_flow",
	DeleteAnyFlow:    "delete_any_flow",
	ManageShare:      "manage_share",
	ViewAnalytics:    "view_analytics",
	InviteMember:     "invite_member",
	CancelInvitation: "cancel_invitation",
	ResendInvitation: "resend_invitation",
	ChangeMemberRole: "change_member_role",
	RemoveMember:     "remove_member",
	UpdateTenant:     "update_tenant",
	DeleteTenant:     "delete_tenant",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

type actionSet map[Action]bool

func allow(actions ...Action) actionSet {
	set := make(actionSet, len(actions))
	for _, a := range actions {
		set[a] = true
	}
	return set
}

var table = map[models.Role]actionSet{
	models.RoleOwner: allow(
		ViewFlow, CreateFlow, ModifyOwnFlow, ModifyAnyFlow, DeleteAnyFlow, ManageShare, ViewAnalytics,
		InviteMember, CancelInvitation, ResendInvitation, ChangeMemberRole, RemoveMember,
		UpdateTenant, DeleteTenant,
	),
	models.RoleAdmin: allow(
		ViewFlow, CreateFlow, ModifyOwnFlow, ModifyAnyFlow, DeleteAnyFlow, ManageShare, ViewAnalytics,
		InviteMember, CancelInvitation, ResendInvitation, UpdateTenant,
	),
	models.RoleMember: allow(
		ViewFlow, CreateFlow, ModifyOwnFlow, ViewAnalytics,
	),
}

// Permission reports whether role may perform action. Unknown roles are denied.
// ManageShare for a member's own flow is covered by ModifyOwnFlow.
func Permission(role models.Role, action Action) bool {
	return table[role][action]
}

// CanModify applies the flow ownership rule: any-flow permission, or
// own-flow permission when the member created the flow.
func CanModify(role models.Role, isCreator bool) bool {
	if Permission(role, ModifyAnyFlow) {
		return true
	}
	return isCreator && Permission(role, ModifyOwnFlow)
}
