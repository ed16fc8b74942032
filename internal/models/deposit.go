package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MainContractType states which kind of contract a deposit precedes.
type MainContractType string

const (
	MainContractPurchase MainContractType = "PURCHASE"
	MainContractRental   MainContractType = "RENTAL"
)

// DepositContract holds earnest money ahead of a purchase or rental contract.
type DepositContract struct {
	ContractBase

	MainContractType MainContractType `gorm:"size:20;not null" json:"main_contract_type"`
	DepositAmount    decimal.Decimal  `gorm:"type:decimal(20,2);not null" json:"deposit_amount"`
	AgreedPrice      decimal.Decimal  `gorm:"type:decimal(20,2);not null" json:"agreed_price"`
	EndDate          *time.Time       `json:"end_date,omitempty"`
	// CancellationPenalty overrides the owner-side penalty; null means "equal to the deposit".
	CancellationPenalty  decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"cancellation_penalty"`
	LinkedToMainContract bool                `gorm:"not null;default:false" json:"linked_to_main_contract"`
}

func (*DepositContract) Kind() ContractKind { return ContractKindDeposit }

// Penalty is the amount paid to the customer, on top of the refund, when the
// owner cancels a funded deposit.
func (d *DepositContract) Penalty() decimal.Decimal {
	if d.CancellationPenalty.Valid {
		return d.CancellationPenalty.Decimal
	}
	return d.DepositAmount
}

// IsExpired reports whether the deposit's end date has passed at now.
func (d *DepositContract) IsExpired(now time.Time) bool {
	return d.EndDate != nil && now.After(*d.EndDate)
}
