package services

import (
	"context"
	"fmt"
	"time"

	"github.com/diewo77/go-brokerage/auth"
	"github.com/diewo77/go-brokerage/gate"
	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/diewo77/go-brokerage/internal/reporting"
	"github.com/diewo77/go-brokerage/validation"
	"github.com/shopspring/decimal"
)

// PurchaseInput creates or replaces a DRAFT purchase contract.
type PurchaseInput struct {
	PropertyID           uint            `json:"property_id"`
	CustomerID           uint            `json:"customer_id"`
	AgentID              *uint           `json:"agent_id,omitempty"`
	PropertyValue        decimal.Decimal `json:"property_value"`
	AdvancePaymentAmount decimal.Decimal `json:"advance_payment_amount"`
	CommissionAmount     decimal.Decimal `json:"commission_amount"`
	DepositContractID    *uint           `json:"deposit_contract_id,omitempty"`
	StartDate            time.Time       `json:"start_date"`
	SpecialTerms         string          `json:"special_terms,omitempty"`
}

func (in PurchaseInput) validate() error {
	v := validation.Violations{}
	validation.RequiredID("property_id", in.PropertyID, v)
	validation.RequiredID("customer_id", in.CustomerID, v)
	validation.PositiveAmount("property_value", in.PropertyValue, v)
	validation.NonNegativeAmount("advance_payment_amount", in.AdvancePaymentAmount, v)
	validation.NonNegativeAmount("commission_amount", in.CommissionAmount, v)
	requiredDate("start_date", in.StartDate, v)
	if !v.Empty() {
		return invalid(v)
	}
	if !in.CommissionAmount.LessThan(in.PropertyValue) {
		return apperr.Invalid("Commission amount must be less than property value",
			map[string]string{"commission_amount": "must_be_less_than_limit"})
	}
	if in.AdvancePaymentAmount.GreaterThan(in.PropertyValue) {
		return apperr.Invalid("Advance payment amount cannot exceed property value",
			map[string]string{"advance_payment_amount": "must_not_exceed_limit"})
	}
	return nil
}

// PurchaseService runs the purchase contract workflow. An optional advance
// is collected after approval, the remainder after paperwork, and the sale
// completes when everything settled.
type PurchaseService struct {
	wf       *workflow[models.PurchaseContract, *models.PurchaseContract]
	deposits *DepositService
}

func newPurchaseService(d *Deps, ledger *Ledger, payouts *Payouts, deposits *DepositService) *PurchaseService {
	return &PurchaseService{
		wf: &workflow[models.PurchaseContract, *models.PurchaseContract]{
			deps: d, kind: models.ContractKindPurchase, ledger: ledger, payouts: payouts,
		},
		deposits: deposits,
	}
}

func (p *PurchaseService) apply(s *step, c *models.PurchaseContract, in PurchaseInput) error {
	if err := in.validate(); err != nil {
		return err
	}
	if err := p.wf.resolveParties(s, &c.ContractBase, in.PropertyID, in.CustomerID); err != nil {
		return err
	}
	if c.AgentID == nil || in.AgentID != nil {
		if err := p.wf.assignAgent(s, &c.ContractBase, in.AgentID); err != nil {
			return err
		}
	}
	if err := p.deposits.relink(s, c.DepositContractID, in.DepositContractID,
		models.MainContractPurchase, &c.ContractBase, in.PropertyValue); err != nil {
		return err
	}
	c.PropertyValue = in.PropertyValue
	c.AdvancePaymentAmount = in.AdvancePaymentAmount
	c.CommissionAmount = in.CommissionAmount
	c.DepositContractID = in.DepositContractID
	c.StartDate = in.StartDate
	c.SpecialTerms = in.SpecialTerms
	return nil
}

// Create drafts a purchase contract, reserving the linked deposit if any.
func (p *PurchaseService) Create(ctx context.Context, actor auth.Actor, in PurchaseInput) (*models.PurchaseContract, error) {
	return p.wf.create(ctx, actor, func(s *step, c *models.PurchaseContract) error {
		return p.apply(s, c, in)
	})
}

func (p *PurchaseService) Update(ctx context.Context, actor auth.Actor, id uint, in PurchaseInput) (*models.PurchaseContract, error) {
	return p.wf.update(ctx, actor, id, func(s *step, c *models.PurchaseContract) error {
		return p.apply(s, c, in)
	})
}

// Delete removes a DRAFT purchase contract and releases its deposit.
func (p *PurchaseService) Delete(ctx context.Context, actor auth.Actor, id uint) error {
	return p.wf.remove(ctx, actor, id, func(s *step, c *models.PurchaseContract) error {
		return p.deposits.unlink(s, c.DepositContractID)
	})
}

func (p *PurchaseService) Get(ctx context.Context, actor auth.Actor, id uint) (*models.PurchaseContract, error) {
	return p.wf.get(ctx, actor, id)
}

func (p *PurchaseService) Payments(ctx context.Context, actor auth.Actor, id uint) ([]models.Payment, error) {
	return p.wf.payments(ctx, actor, id)
}

// Approve moves a DRAFT to WAITING_OFFICIAL and requests the advance, if any.
func (p *PurchaseService) Approve(ctx context.Context, actor auth.Actor, id uint) (*models.PurchaseContract, error) {
	return p.wf.approve(ctx, actor, id, func(s *step, c *models.PurchaseContract) error {
		if !c.AdvancePaymentAmount.IsPositive() {
			return nil
		}
		_, err := p.request(s, c, models.PaymentTypeAdvance, c.AdvancePaymentAmount, "Advance payment")
		return err
	})
}

func (p *PurchaseService) request(s *step, c *models.PurchaseContract, typ models.PaymentType, amount decimal.Decimal, title string) (*models.Payment, error) {
	pay, err := p.wf.ledger.create(s.ctx, s.tx, c, newPayment{
		Type:        typ,
		Amount:      amount,
		Description: title + " for " + c.ContractNumber,
	})
	if err != nil {
		return nil, err
	}
	s.out.notifyContract(c, models.NotificationPaymentDue, title+" due",
		fmt.Sprintf("Please pay %s for %s before %s", pay.Amount, c.ContractNumber, pay.DueDate.Format("2006-01-02")),
		map[string]any{"payment_id": pay.ID, "amount": pay.Amount.String(), "checkout_url": pay.CheckoutURL},
		c.CustomerID)
	return pay, nil
}

// MarkPaperworkComplete records the signature and requests the remaining
// price after the settled advance. With nothing left to pay the sale completes.
func (p *PurchaseService) MarkPaperworkComplete(ctx context.Context, actor auth.Actor, id uint) (*models.PurchaseContract, error) {
	return p.wf.mutate(ctx, id, &actor, gate.ActionTransition, func(s *step, c *models.PurchaseContract) error {
		if err := requireStatus(c, models.ContractStatusWaitingOfficial); err != nil {
			return err
		}
		ps, err := paymentsOf(s.tx, c)
		if err != nil {
			return err
		}
		advance := ps.ofType(models.PaymentTypeAdvance)
		if advance.hasPending() {
			return apperr.BadRequest("Advance payment is still pending")
		}
		now := s.now
		c.SignedAt = &now
		remaining := c.PropertyValue.Sub(advance.settled().total())
		if !remaining.IsPositive() {
			return p.complete(s, c)
		}
		if _, err := p.request(s, c, models.PaymentTypeFullPay, remaining, "Final payment"); err != nil {
			return err
		}
		c.Status = models.ContractStatusPendingPayment
		return nil
	})
}

// complete pays the owner, records the commission and completes the
// linked deposit once this transaction commits.
func (p *PurchaseService) complete(s *step, c *models.PurchaseContract) error {
	_, err := p.wf.payouts.trigger(s.ctx, s.tx, s.out, s.actor.UserID, payoutRequest{
		contract: c, recipientID: s.property.OwnerID,
		purpose: models.PayoutSaleProceeds, amount: c.OwnerProceeds(),
		description: "Sale proceeds of " + c.ContractNumber,
	})
	if err != nil {
		return err
	}
	c.Status = models.ContractStatusCompleted
	s.out.record(reporting.EntryAt(s.now, c.Kind(), c.ID, c.PropertyID, c.CommissionAmount))
	if c.DepositContractID != nil {
		depositID := *c.DepositContractID
		s.out.after("complete linked deposit", func(ctx context.Context) error {
			_, err := p.deposits.CompleteDepositContract(ctx, depositID)
			return err
		})
	}
	s.out.notifyContract(c, models.NotificationContractUpdate, "Purchase completed",
		fmt.Sprintf("Purchase contract %s is completed", c.ContractNumber),
		nil, c.CustomerID, s.property.OwnerID, uidOf(c.AgentID))
	return nil
}

// OnAdvancePaymentCompleted is called once the advance settles. The agent
// is told to continue with the paperwork; status does not change.
func (p *PurchaseService) OnAdvancePaymentCompleted(ctx context.Context, id uint) (*models.PurchaseContract, error) {
	return p.wf.mutate(ctx, id, nil, "", func(s *step, c *models.PurchaseContract) error {
		if err := requireNotTerminal(c); err != nil {
			return err
		}
		if c.Status != models.ContractStatusWaitingOfficial {
			p.wf.deps.Logger.Info("advance settled outside paperwork stage",
				"contract", c.ContractNumber, "status", c.Status)
			return nil
		}
		s.out.notifyContract(c, models.NotificationContractUpdate, "Advance payment received",
			fmt.Sprintf("The advance for %s has been paid; paperwork can be completed", c.ContractNumber),
			nil, uidOf(c.AgentID), s.property.OwnerID)
		return nil
	})
}

// OnFinalPaymentCompleted completes the sale once every payment settled.
func (p *PurchaseService) OnFinalPaymentCompleted(ctx context.Context, id uint) (*models.PurchaseContract, error) {
	return p.wf.mutate(ctx, id, nil, "", func(s *step, c *models.PurchaseContract) error {
		if c.Status == models.ContractStatusCompleted {
			return nil
		}
		if err := requireStatus(c, models.ContractStatusPendingPayment); err != nil {
			return err
		}
		ps, err := paymentsOf(s.tx, c)
		if err != nil {
			return err
		}
		if !ps.live().allSettled() || len(ps.ofType(models.PaymentTypeFullPay).settled()) == 0 {
			p.wf.deps.Logger.Warn("purchase still has pending payments", "contract", c.ContractNumber)
			return nil
		}
		return p.complete(s, c)
	})
}

// Cancel ends a purchase before the final payment. A settled advance is
// refunded to the customer. After the final payment only an admin void can
// end the contract.
func (p *PurchaseService) Cancel(ctx context.Context, actor auth.Actor, id uint, reason string) (*models.PurchaseContract, error) {
	return p.wf.mutate(ctx, id, &actor, gate.ActionCancel, func(s *step, c *models.PurchaseContract) error {
		if err := requireNotTerminal(c); err != nil {
			return err
		}
		ps, err := paymentsOf(s.tx, c)
		if err != nil {
			return err
		}
		if len(ps.ofType(models.PaymentTypeFullPay).settled()) > 0 {
			return apperr.BadRequest("Cannot cancel after final payment is made. Please contact admin to void the contract.")
		}
		for _, adv := range ps.ofType(models.PaymentTypeAdvance).settled() {
			paymentID := adv.ID
			_, err := p.wf.payouts.trigger(s.ctx, s.tx, s.out, actor.UserID, payoutRequest{
				contract: c, paymentID: &paymentID, recipientID: c.CustomerID,
				purpose: models.PayoutAdvanceRefund, amount: adv.Amount,
				description: "Advance refund of " + c.ContractNumber,
			})
			if err != nil {
				return err
			}
		}
		if err := p.wf.ledger.cancelPending(s.tx, c); err != nil {
			return err
		}
		if err := p.deposits.unlink(s, c.DepositContractID); err != nil {
			return err
		}
		by := p.wf.cancellerOf(s, c)
		c.MarkCancelled(reason, by, actor.UserID, s.now)
		s.out.notifyContract(c, models.NotificationContractUpdate, "Purchase contract cancelled",
			fmt.Sprintf("Purchase contract %s was cancelled by the %s", c.ContractNumber, lower(by)),
			nil, c.CustomerID, s.property.OwnerID, uidOf(c.AgentID))
		return nil
	})
}

// Void cancels without moving money and releases the linked deposit. Admin only.
func (p *PurchaseService) Void(ctx context.Context, actor auth.Actor, id uint, reason string) (*models.PurchaseContract, error) {
	return p.wf.void(ctx, actor, id, reason, func(s *step, c *models.PurchaseContract) error {
		return p.deposits.unlink(s, c.DepositContractID)
	})
}
