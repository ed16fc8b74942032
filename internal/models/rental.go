package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SecurityDepositStatus string

const (
	SecurityDepositNotPaid            SecurityDepositStatus = "NOT_PAID"
	SecurityDepositHeld               SecurityDepositStatus = "HELD"
	SecurityDepositReturnedToCustomer SecurityDepositStatus = "RETURNED_TO_CUSTOMER"
	SecurityDepositTransferredToOwner SecurityDepositStatus = "TRANSFERRED_TO_OWNER"
)

// RentalContract is a recurring-rent agreement.
type RentalContract struct {
	ContractBase

	MonthCount        int             `gorm:"not null" json:"month_count"`
	MonthlyRentAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"monthly_rent_amount"`
	CommissionAmount  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"commission_amount"`
	EndDate           time.Time       `gorm:"not null" json:"end_date"`

	SecurityDepositAmount         decimal.Decimal       `gorm:"type:decimal(20,2);not null;default:0" json:"security_deposit_amount"`
	SecurityDepositStatus         SecurityDepositStatus `gorm:"size:30;not null;default:'NOT_PAID'" json:"security_deposit_status"`
	SecurityDepositDecisionReason string                `gorm:"size:500" json:"security_deposit_decision_reason,omitempty"`
	SecurityDepositDecidedAt      *time.Time            `json:"security_deposit_decided_at,omitempty"`

	LatePaymentPenaltyRate   decimal.Decimal `gorm:"type:decimal(8,4);not null;default:0" json:"late_payment_penalty_rate"`
	AccumulatedUnpaidPenalty decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"accumulated_unpaid_penalty"`
	UnpaidMonthsCount        int             `gorm:"not null;default:0" json:"unpaid_months_count"`

	DepositContractID *uint `gorm:"index" json:"deposit_contract_id,omitempty"`
}

func (*RentalContract) Kind() ContractKind { return ContractKindRental }

// RentEndDate is the start date plus the rental term.
func RentEndDate(start time.Time, months int) time.Time {
	return start.AddDate(0, months, 0)
}

// OwnerMonthlyShare is the owner's payout for one settled rent installment.
func (r *RentalContract) OwnerMonthlyShare() decimal.Decimal {
	return r.MonthlyRentAmount.Sub(r.CommissionAmount)
}

// RequiresSecurityDeposit reports whether a security deposit must settle before paperwork completes.
func (r *RentalContract) RequiresSecurityDeposit() bool {
	return r.SecurityDepositAmount.IsPositive()
}

// LatePenalty is the penalty added for one overdue installment.
func (r *RentalContract) LatePenalty() decimal.Decimal {
	return r.MonthlyRentAmount.Mul(r.LatePaymentPenaltyRate).Round(2)
}
