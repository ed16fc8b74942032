package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type NotificationType string

const (
	NotificationPaymentDue      NotificationType = "PAYMENT_DUE"
	NotificationContractUpdate  NotificationType = "CONTRACT_UPDATE"
	NotificationPayout          NotificationType = "PAYOUT"
	NotificationSecurityDeposit NotificationType = "SECURITY_DEPOSIT"
	NotificationSystemAlert     NotificationType = "SYSTEM_ALERT"
)

// Notification is a message delivered to one user.
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UserID            uint              `gorm:"index;not null" json:"user_id"`
	Type              NotificationType  `gorm:"size:30;not null" json:"type"`
	Title             string            `gorm:"size:255;not null" json:"title"`
	Message           string            `gorm:"type:text" json:"message"`
	RelatedEntityType string            `gorm:"size:50" json:"related_entity_type,omitempty"`
	RelatedEntityID   uint              `json:"related_entity_id,omitempty"`
	Extra             datatypes.JSONMap `json:"extra,omitempty"`
	IsRead            bool              `gorm:"not null;default:false" json:"is_read"`
}

// FinancialTransaction is one commission entry for monthly reporting.
type FinancialTransaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	PropertyID   uint            `gorm:"index;not null" json:"property_id"`
	ContractKind ContractKind    `gorm:"size:20;not null" json:"contract_kind"`
	ContractID   uint            `gorm:"not null" json:"contract_id"`
	Commission   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"commission"`
	Month        int             `gorm:"not null;index:idx_fin_period" json:"month"`
	Year         int             `gorm:"not null;index:idx_fin_period" json:"year"`
}

// AuditLog records who changed what on a contract. UserID 0 is the system.
type AuditLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"index" json:"user_id"`
	EntityType string    `gorm:"size:50;index:idx_audit_entity" json:"entity_type"`
	EntityID   uint      `gorm:"index:idx_audit_entity" json:"entity_id"`
	Action     string    `gorm:"size:50" json:"action"`
	Field      string    `gorm:"size:50" json:"field,omitempty"`
	OldValue   string    `gorm:"size:255" json:"old_value,omitempty"`
	NewValue   string    `gorm:"size:255" json:"new_value,omitempty"`
	Note       string    `gorm:"size:500" json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&Property{},
		&DepositContract{},
		&PurchaseContract{},
		&RentalContract{},
		&Payment{},
		&Payout{},
		&Notification{},
		&FinancialTransaction{},
		&AuditLog{},
	}
}
