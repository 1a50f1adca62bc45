package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

// The structs below freeze the schema as of this migration. Runtime models
// live in services/api/internal/models and may evolve independently.

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email     string    `gorm:"type:text;uniqueIndex;not null"`
	Name      string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Session struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index"`
	TokenHash      string     `gorm:"type:text;uniqueIndex;not null"`
	ActiveTenantID *uuid.UUID `gorm:"type:uuid"`
	ExpiresAt      time.Time  `gorm:"type:timestamptz;not null"`
	RevokedAt      *time.Time `gorm:"type:timestamptz"`
	CreatedAt      time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	User           User       `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Tenant struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type TenantMembership struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_memberships_user_tenant"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_memberships_user_tenant;index"`
	Role      string    `gorm:"type:text;not null;default:'MEMBER'"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	User      User      `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Tenant    Tenant    `gorm:"foreignKey:TenantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Invitation struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Email     string    `gorm:"type:text;not null;index"`
	Role      string    `gorm:"type:text;not null;default:'MEMBER'"`
	InvitedBy uuid.UUID `gorm:"type:uuid;not null"`
	Token     string    `gorm:"type:text;uniqueIndex;not null"`
	Status    string    `gorm:"type:text;not null;default:'PENDING'"`
	ExpiresAt time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Tenant    Tenant    `gorm:"foreignKey:TenantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Inviter   User      `gorm:"foreignKey:InvitedBy;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Flow struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID      `gorm:"type:uuid;not null;index"`
	CreatedBy uuid.UUID      `gorm:"type:uuid;not null;index"`
	Name      string         `gorm:"type:text;not null"`
	Meta      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time      `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Tenant    Tenant         `gorm:"foreignKey:TenantID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Creator   User           `gorm:"foreignKey:CreatedBy;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type FlowStep struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey"`
	FlowID             uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_flow_steps_flow_order"`
	Type               string         `gorm:"type:text;not null"`
	URL                string         `gorm:"column:url;type:text;not null"`
	Explanation        string         `gorm:"type:text;not null"`
	Order              int            `gorm:"column:order;not null;uniqueIndex:idx_flow_steps_flow_order"`
	ScreenshotThumbURL *string        `gorm:"column:screenshot_thumb_url;type:text"`
	ScreenshotFullURL  *string        `gorm:"column:screenshot_full_url;type:text"`
	Meta               datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt          time.Time      `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt          time.Time      `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Flow               Flow           `gorm:"foreignKey:FlowID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type FlowShare struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	FlowID     uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	ShareToken string    `gorm:"type:text;uniqueIndex;not null"`
	ViewCount  int64     `gorm:"not null;default:0"`
	CreatedBy  uuid.UUID `gorm:"type:uuid;not null"`
	CreatedAt  time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt  time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Flow       Flow      `gorm:"foreignKey:FlowID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type AnalyticsEvent struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	FlowID    uuid.UUID  `gorm:"type:uuid;not null"`
	ShareID   *uuid.UUID `gorm:"type:uuid"`
	StepID    *uuid.UUID `gorm:"type:uuid"`
	EventType string     `gorm:"type:text;not null"`
	SessionID string     `gorm:"type:text;not null"`
	Timestamp time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	Flow      Flow       `gorm:"foreignKey:FlowID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Share     *FlowShare `gorm:"foreignKey:ShareID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func openTx(tx *sql.Tx) (*gorm.DB, error) {
	return gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&User{},
		&Session{},
		&Tenant{},
		&TenantMembership{},
		&Invitation{},
		&Flow{},
		&FlowStep{},
		&FlowShare{},
		&AnalyticsEvent{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := openTx(tx)
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&AnalyticsEvent{},
		&FlowShare{},
		&FlowStep{},
		&Flow{},
		&Invitation{},
		&TenantMembership{},
		&Tenant{},
		&Session{},
		&User{},
	)
}
