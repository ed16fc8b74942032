package services

import (
	"context"

	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/diewo77/go-brokerage/internal/models"
)

// Settlements routes a settled payment to the workflow step it completes.
type Settlements struct {
	ledger    *Ledger
	deposits  *DepositService
	purchases *PurchaseService
	rentals   *RentalService
}

// Confirm runs the completion step of a settled payment and marks the
// payment confirmed. Running it again is harmless: every step skips what
// it already did.
func (s *Settlements) Confirm(ctx context.Context, paymentID uint) error {
	p, err := s.ledger.Payment(ctx, paymentID)
	if err != nil {
		return err
	}
	if !p.IsSettled() {
		return apperr.BadRequestf("Payment is %s, not settled", p.Status)
	}
	if err := s.route(ctx, p); err != nil {
		return err
	}
	return s.ledger.markConfirmed(ctx, p.ID)
}

func (s *Settlements) route(ctx context.Context, p *models.Payment) error {
	var err error
	switch {
	case p.ContractKind == models.ContractKindDeposit && p.Type == models.PaymentTypeDeposit:
		_, err = s.deposits.OnDepositPaymentCompleted(ctx, p.ContractID)
	case p.ContractKind == models.ContractKindPurchase && p.Type == models.PaymentTypeAdvance:
		_, err = s.purchases.OnAdvancePaymentCompleted(ctx, p.ContractID)
	case p.ContractKind == models.ContractKindPurchase && p.Type == models.PaymentTypeFullPay:
		_, err = s.purchases.OnFinalPaymentCompleted(ctx, p.ContractID)
	case p.ContractKind == models.ContractKindRental && p.Type == models.PaymentTypeSecurityDeposit:
		_, err = s.rentals.OnSecurityDepositPaymentCompleted(ctx, p.ContractID)
	case p.ContractKind == models.ContractKindRental && p.Type == models.PaymentTypeMonthly && p.Installment() == 1:
		_, err = s.rentals.OnFirstMonthRentPaymentCompleted(ctx, p.ContractID)
	case p.ContractKind == models.ContractKindRental && p.Type == models.PaymentTypeMonthly:
		_, err = s.rentals.OnMonthlyRentPaymentCompleted(ctx, p.ContractID, p.ID)
	default:
		return apperr.BadRequestf("%s payment is not valid for a %s contract", p.Type, p.ContractKind)
	}
	return err
}

// Settle records a payment outcome. A settled payment whose completion step
// has not yet succeeded is confirmed, so a redelivered confirmation resumes
// a step that failed the first time.
func (s *Settlements) Settle(ctx context.Context, paymentID uint, status models.PaymentStatus) (*models.Payment, error) {
	p, _, err := s.ledger.Settle(ctx, paymentID, status)
	if err != nil {
		return nil, err
	}
	return s.confirmPending(ctx, p)
}

// Reconcile pulls a payment session's state from the gateway, then confirms
// as Settle does.
func (s *Settlements) Reconcile(ctx context.Context, sessionID string) (*models.Payment, error) {
	p, _, err := s.ledger.Reconcile(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.confirmPending(ctx, p)
}

func (s *Settlements) confirmPending(ctx context.Context, p *models.Payment) (*models.Payment, error) {
	if !p.IsSettled() || p.ConfirmedAt != nil {
		return p, nil
	}
	if err := s.Confirm(ctx, p.ID); err != nil {
		return p, err
	}
	return s.ledger.Payment(ctx, p.ID)
}
