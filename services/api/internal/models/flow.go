package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// FlowMeta is the optional descriptive metadata attached to a flow.
type FlowMeta struct {
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Flow is a saved walkthrough owned by one tenant.
type Flow struct {
	ID        uuid.UUID                    `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID  uuid.UUID                    `gorm:"type:uuid;not null" json:"tenantId"`
	CreatedBy uuid.UUID                    `gorm:"type:uuid;not null" json:"createdBy"`
	Name      string                       `gorm:"type:text;not null" json:"name"`
	Meta      datatypes.JSONType[FlowMeta] `gorm:"type:jsonb" json:"meta"`
	CreatedAt time.Time                    `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time                    `gorm:"autoUpdateTime" json:"updatedAt"`
}

// FlowStep is one recorded action of a flow. Order is unique per flow.
type FlowStep struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	FlowID             uuid.UUID      `gorm:"type:uuid;not null" json:"flowId"`
	Type               StepType       `gorm:"type:text;not null" json:"type"`
	URL                string         `gorm:"column:url;type:text;not null" json:"url"`
	Explanation        string         `gorm:"type:text;not null" json:"explanation"`
	Order              int            `gorm:"column:order;not null" json:"order"`
	ScreenshotThumbURL *string        `gorm:"column:screenshot_thumb_url;type:text" json:"screenshotThumbUrl"`
	ScreenshotFullURL  *string        `gorm:"column:screenshot_full_url;type:text" json:"screenshotFullUrl"`
	Meta               datatypes.JSON `gorm:"type:jsonb" json:"meta,omitempty"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// FlowShare is the public link of a flow. At most one per flow.
type FlowShare struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FlowID     uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"flowId"`
	ShareToken string    `gorm:"type:text;uniqueIndex;not null" json:"shareToken"`
	ViewCount  int64     `gorm:"not null" json:"viewCount"`
	CreatedBy  uuid.UUID `gorm:"type:uuid;not null" json:"createdBy"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// AnalyticsEvent is an append-only viewer event.
type AnalyticsEvent struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	FlowID    uuid.UUID  `gorm:"type:uuid;not null" json:"flowId"`
	ShareID   *uuid.UUID `gorm:"type:uuid" json:"shareId,omitempty"`
	StepID    *uuid.UUID `gorm:"type:uuid" json:"stepId,omitempty"`
	EventType EventType  `gorm:"type:text;not null" json:"eventType"`
	SessionID string     `gorm:"type:text;not null" json:"sessionId"`
	Timestamp time.Time  `gorm:"not null" json:"timestamp"`
}
