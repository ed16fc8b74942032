package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PayoutPurpose string

const (
	PayoutDepositForfeit          PayoutPurpose = "DEPOSIT_FORFEIT"
	PayoutDepositRefund           PayoutPurpose = "DEPOSIT_REFUND"
	PayoutCancellationPenalty     PayoutPurpose = "CANCELLATION_PENALTY"
	PayoutDepositReturn           PayoutPurpose = "DEPOSIT_RETURN"
	PayoutAdvanceRefund           PayoutPurpose = "ADVANCE_REFUND"
	PayoutSaleProceeds            PayoutPurpose = "SALE_PROCEEDS"
	PayoutMonthlyRent             PayoutPurpose = "MONTHLY_RENT"
	PayoutSecurityDepositReturn   PayoutPurpose = "SECURITY_DEPOSIT_RETURN"
	PayoutSecurityDepositTransfer PayoutPurpose = "SECURITY_DEPOSIT_TRANSFER"
)

type PayoutStatus string

const (
	PayoutStatusSent     PayoutStatus = "SENT"
	PayoutStatusDeferred PayoutStatus = "DEFERRED"
)

// Payout records an outbound transfer, or one that was deferred for manual follow-up.
type Payout struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IdempotencyKey string `gorm:"size:150;uniqueIndex;not null" json:"idempotency_key"`

	ContractKind ContractKind `gorm:"size:20;not null;index:idx_payout_contract" json:"contract_kind"`
	ContractID   uint         `gorm:"not null;index:idx_payout_contract" json:"contract_id"`
	PaymentID    *uint        `json:"payment_id,omitempty"`

	RecipientID uint            `gorm:"index;not null" json:"recipient_id"`
	Purpose     PayoutPurpose   `gorm:"size:40;not null" json:"purpose"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Description string          `gorm:"size:500" json:"description"`

	Status    PayoutStatus `gorm:"size:20;index;not null" json:"status"`
	Reason    string       `gorm:"size:500" json:"reason,omitempty"`
	SessionID string       `gorm:"size:100" json:"session_id,omitempty"`
	SentAt    *time.Time   `json:"sent_at,omitempty"`
}
