package models

import "strings"

// Role is a member's role within a tenant.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// ParseRole normalises s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	default:
		return false
	}
}

// StepType is the kind of interaction a step recorded.
type StepType string

const (
	StepClick      StepType = "CLICK"
	StepNavigation StepType = "NAVIGATION"
	StepInput      StepType = "INPUT"
	StepVisibility StepType = "VISIBILITY"
	StepManual     StepType = "MANUAL"
)

func (t StepType) Valid() bool {
	switch t {
	case StepClick, StepNavigation, StepInput, StepVisibility, StepManual:
		return true
	default:
		return false
	}
}

// EventType is the kind of analytics event a viewer emitted.
type EventType string

const (
	EventView         EventType = "VIEW"
	EventFlowComplete EventType = "FLOW_COMPLETE"
	EventStepView     EventType = "STEP_VIEW"
)

func (t EventType) Valid() bool {
	switch t {
	case EventView, EventFlowComplete, EventStepView:
		return true
	default:
		return false
	}
}

// InvitationStatus tracks an invitation through its single transition.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
	InvitationExpired  InvitationStatus = "EXPIRED"
)
