package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an authenticated person. Accounts are provisioned by the external
// auth provider; Navio only reads them.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"type:text;uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Session is a browser session. Only the SHA-256 of the cookie value is stored.
type Session struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index" json:"userId"`
	TokenHash      string     `gorm:"type:text;uniqueIndex;not null" json:"-"`
	ActiveTenantID *uuid.UUID `gorm:"type:uuid" json:"activeTenantId,omitempty"`
	ExpiresAt      time.Time  `gorm:"not null" json:"expiresAt"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"createdAt"`
}

// Active reports whether the session may still authenticate requests at now.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
