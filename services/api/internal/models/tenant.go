package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an organization and the unit of data isolation.
type Tenant struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TenantMembership joins a user to a tenant with a role.
type TenantMembership struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null" json:"userId"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null" json:"tenantId"`
	Role      Role      `gorm:"type:text;not null" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Invitation is a pending offer of membership sent by email.
type Invitation struct {
	ID        uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  uuid.UUID        `gorm:"type:uuid;not null" json:"tenantId"`
	Email     string           `gorm:"type:text;not null" json:"email"`
	Role      Role             `gorm:"type:text;not null" json:"role"`
	InvitedBy uuid.UUID        `gorm:"type:uuid;not null" json:"invitedBy"`
	Token     string           `gorm:"type:text;uniqueIndex;not null" json:"-"`
	Status    InvitationStatus `gorm:"type:text;not null" json:"status"`
	ExpiresAt time.Time        `gorm:"not null" json:"expiresAt"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime" json:"updatedAt"`
}
