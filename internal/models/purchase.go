package models

import "github.com/shopspring/decimal"

// PurchaseContract is a one-time property sale.
type PurchaseContract struct {
	ContractBase

	PropertyValue        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"property_value"`
	AdvancePaymentAmount decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"advance_payment_amount"`
	CommissionAmount     decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"commission_amount"`
	DepositContractID    *uint           `gorm:"index" json:"deposit_contract_id,omitempty"`
}

func (*PurchaseContract) Kind() ContractKind { return ContractKindPurchase }

// OwnerProceeds is what the owner receives when the sale completes.
func (p *PurchaseContract) OwnerProceeds() decimal.Decimal {
	return p.PropertyValue.Sub(p.CommissionAmount)
}
