package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypeDeposit         PaymentType = "DEPOSIT"
	PaymentTypeAdvance         PaymentType = "ADVANCE"
	PaymentTypeSecurityDeposit PaymentType = "SECURITY_DEPOSIT"
	PaymentTypeMonthly         PaymentType = "MONTHLY"
	PaymentTypeFullPay         PaymentType = "FULL_PAY"
)

type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "PENDING"
	PaymentStatusSuccess       PaymentStatus = "SUCCESS"
	PaymentStatusSystemSuccess PaymentStatus = "SYSTEM_SUCCESS"
	PaymentStatusFailed        PaymentStatus = "FAILED"
	PaymentStatusCancelled     PaymentStatus = "CANCELLED"
)

// SettledStatuses are the statuses that count as money received.
var SettledStatuses = []PaymentStatus{PaymentStatusSuccess, PaymentStatusSystemSuccess}

// IsSettled returns true once the customer paid or the system confirmed payment.
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusSystemSuccess
}

// Payment is one payment obligation of a contract.
type Payment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ContractKind ContractKind `gorm:"size:20;not null;index:idx_payment_contract" json:"contract_kind"`
	ContractID   uint         `gorm:"not null;index:idx_payment_contract" json:"contract_id"`
	PropertyID   uint         `gorm:"index;not null" json:"property_id"`

	Type              PaymentType     `gorm:"size:20;not null" json:"type"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	DueDate           time.Time       `gorm:"not null" json:"due_date"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	Status            PaymentStatus   `gorm:"size:20;not null;default:'PENDING'" json:"status"`
	InstallmentNumber *int            `json:"installment_number,omitempty"`

	GatewaySessionID string `gorm:"size:100;index" json:"gateway_session_id,omitempty"`
	CheckoutURL      string `gorm:"size:1000" json:"checkout_url,omitempty"`

	// PenaltyAssessed marks a MONTHLY installment already counted as late.
	PenaltyAssessed bool `gorm:"not null;default:false" json:"penalty_assessed"`
	// ConfirmedAt is set once the workflow step of a settled payment has run.
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// IsSettled reports whether the payment has been received.
func (p *Payment) IsSettled() bool { return p.Status.IsSettled() }

// Installment returns the installment number or 0.
func (p *Payment) Installment() int {
	if p.InstallmentNumber == nil {
		return 0
	}
	return *p.InstallmentNumber
}
