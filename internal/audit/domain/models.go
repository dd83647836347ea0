package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Action string

const (
	ActionCreate     Action = "create"
	ActionCancel     Action = "cancel"
	ActionReverse    Action = "reverse"
	ActionConvert    Action = "convert"
	ActionPayment    Action = "payment"
	ActionRefund     Action = "refund"
	ActionMigrate    Action = "migrate"
	ActionAuthDenied Action = "authorization_denied"
)

const (
	EntityTransaction   = "transaction"
	EntityReceipt       = "receipt"
	EntityInvoice       = "invoice"
	EntityPayment       = "invoice_payment"
	EntityAuthorization = "authorization"
)

// AuditLog is an append-only record of a user or system action.
type AuditLog struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	Action       Action            `gorm:"type:varchar(32);not null;index" json:"action"`
	EntityType   string            `gorm:"type:varchar(32);not null;index:ix_audit_logs_entity,priority:1" json:"entity_type"`
	EntityID     string            `gorm:"type:varchar(64);not null;index:ix_audit_logs_entity,priority:2" json:"entity_id"`
	EntityNumber string            `gorm:"type:varchar(32);not null;default:''" json:"entity_number"`
	ActorID      string            `gorm:"type:varchar(64);not null" json:"actor_id"`
	ActorName    string            `gorm:"type:text;not null;default:''" json:"actor_name"`
	ActorRole    string            `gorm:"type:varchar(16);not null;default:''" json:"actor_role"`
	Before       datatypes.JSON    `gorm:"column:before_state;type:json" json:"before,omitempty"`
	After        datatypes.JSON    `gorm:"column:after_state;type:json" json:"after,omitempty"`
	Description  string            `gorm:"type:text;not null;default:''" json:"description"`
	Metadata     datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	Action     Action
	EntityType string
	EntityID   string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}
