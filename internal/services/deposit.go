package services

import (
	"context"
	"fmt"
	"time"

	"github.com/diewo77/go-brokerage/auth"
	"github.com/diewo77/go-brokerage/gate"
	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/diewo77/go-brokerage/validation"
	"github.com/shopspring/decimal"
)

// DepositInput creates or replaces a DRAFT deposit contract.
type DepositInput struct {
	PropertyID       uint                    `json:"property_id"`
	CustomerID       uint                    `json:"customer_id"`
	AgentID          *uint                   `json:"agent_id,omitempty"`
	MainContractType models.MainContractType `json:"main_contract_type"`
	DepositAmount    decimal.Decimal         `json:"deposit_amount"`
	AgreedPrice      decimal.Decimal         `json:"agreed_price"`
	StartDate        time.Time               `json:"start_date"`
	EndDate          *time.Time              `json:"end_date,omitempty"`
	// CancellationPenalty overrides the owner-side penalty. Nil means the deposit amount.
	CancellationPenalty *decimal.Decimal `json:"cancellation_penalty,omitempty"`
	SpecialTerms        string           `json:"special_terms,omitempty"`
}

func (in DepositInput) validate() error {
	v := validation.Violations{}
	validation.RequiredID("property_id", in.PropertyID, v)
	validation.RequiredID("customer_id", in.CustomerID, v)
	validation.OneOf("main_contract_type", string(in.MainContractType),
		[]string{string(models.MainContractPurchase), string(models.MainContractRental)}, v)
	validation.PositiveAmount("deposit_amount", in.DepositAmount, v)
	validation.PositiveAmount("agreed_price", in.AgreedPrice, v)
	requiredDate("start_date", in.StartDate, v)
	if in.EndDate != nil && !in.StartDate.IsZero() && !in.EndDate.After(in.StartDate) {
		v["end_date"] = "must_be_after_start_date"
	}
	if in.CancellationPenalty != nil {
		validation.NonNegativeAmount("cancellation_penalty", *in.CancellationPenalty, v)
	}
	if !v.Empty() {
		return invalid(v)
	}
	return nil
}

// DepositService runs the deposit contract workflow:
// DRAFT -> WAITING_OFFICIAL -> PENDING_PAYMENT -> ACTIVE -> COMPLETED,
// with CANCELLED reachable from every non-terminal status.
type DepositService struct {
	wf *workflow[models.DepositContract, *models.DepositContract]
}

func newDepositService(d *Deps, ledger *Ledger, payouts *Payouts) *DepositService {
	return &DepositService{wf: &workflow[models.DepositContract, *models.DepositContract]{
		deps: d, kind: models.ContractKindDeposit, ledger: ledger, payouts: payouts,
	}}
}

func (d *DepositService) apply(s *step, c *models.DepositContract, in DepositInput) error {
	if err := in.validate(); err != nil {
		return err
	}
	if err := d.wf.resolveParties(s, &c.ContractBase, in.PropertyID, in.CustomerID); err != nil {
		return err
	}
	if c.AgentID == nil || in.AgentID != nil {
		if err := d.wf.assignAgent(s, &c.ContractBase, in.AgentID); err != nil {
			return err
		}
	}
	c.MainContractType = in.MainContractType
	c.DepositAmount = in.DepositAmount
	c.AgreedPrice = in.AgreedPrice
	c.StartDate = in.StartDate
	c.EndDate = in.EndDate
	c.SpecialTerms = in.SpecialTerms
	c.CancellationPenalty = decimal.NullDecimal{}
	if in.CancellationPenalty != nil {
		c.CancellationPenalty = decimal.NewNullDecimal(*in.CancellationPenalty)
	}
	return nil
}

// Create drafts a deposit contract. Admins and agents only.
func (d *DepositService) Create(ctx context.Context, actor auth.Actor, in DepositInput) (*models.DepositContract, error) {
	return d.wf.create(ctx, actor, func(s *step, c *models.DepositContract) error {
		return d.apply(s, c, in)
	})
}

// Update replaces the terms of a DRAFT deposit contract.
func (d *DepositService) Update(ctx context.Context, actor auth.Actor, id uint, in DepositInput) (*models.DepositContract, error) {
	return d.wf.update(ctx, actor, id, func(s *step, c *models.DepositContract) error {
		return d.apply(s, c, in)
	})
}

// Delete removes a DRAFT deposit contract.
func (d *DepositService) Delete(ctx context.Context, actor auth.Actor, id uint) error {
	return d.wf.remove(ctx, actor, id, nil)
}

func (d *DepositService) Get(ctx context.Context, actor auth.Actor, id uint) (*models.DepositContract, error) {
	return d.wf.get(ctx, actor, id)
}

func (d *DepositService) Payments(ctx context.Context, actor auth.Actor, id uint) ([]models.Payment, error) {
	return d.wf.payments(ctx, actor, id)
}

// Approve moves a DRAFT to WAITING_OFFICIAL.
func (d *DepositService) Approve(ctx context.Context, actor auth.Actor, id uint) (*models.DepositContract, error) {
	return d.wf.approve(ctx, actor, id, nil)
}

// CreateDepositPayment requests the deposit from the customer. It refuses a
// second live deposit payment.
func (d *DepositService) CreateDepositPayment(ctx context.Context, actor auth.Actor, id uint) (*models.Payment, error) {
	var p *models.Payment
	_, err := d.wf.mutate(ctx, id, &actor, gate.ActionTransition, func(s *step, c *models.DepositContract) error {
		if err := requireStatus(c, models.ContractStatusWaitingOfficial); err != nil {
			return err
		}
		ps, err := paymentsOf(s.tx, c)
		if err != nil {
			return err
		}
		if len(ps.ofType(models.PaymentTypeDeposit).live()) > 0 {
			return apperr.BadRequest("Deposit payment already exists for this contract")
		}
		p, err = d.requestDeposit(s, c)
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (d *DepositService) requestDeposit(s *step, c *models.DepositContract) (*models.Payment, error) {
	p, err := d.wf.ledger.create(s.ctx, s.tx, c, newPayment{
		Type:        models.PaymentTypeDeposit,
		Amount:      c.DepositAmount,
		Description: "Deposit for " + c.ContractNumber,
	})
	if err != nil {
		return nil, err
	}
	s.out.notifyContract(c, models.NotificationPaymentDue, "Deposit payment due",
		fmt.Sprintf("Please pay the deposit of %s for %s before %s", p.Amount, c.ContractNumber, p.DueDate.Format("2006-01-02")),
		map[string]any{"payment_id": p.ID, "amount": p.Amount.String(), "checkout_url": p.CheckoutURL},
		c.CustomerID)
	return p, nil
}

// MarkPaperworkComplete records the signature. The contract waits for the
// deposit, requesting it if none is live, or activates when it already settled.
func (d *DepositService) MarkPaperworkComplete(ctx context.Context, actor auth.Actor, id uint) (*models.DepositContract, error) {
	return d.wf.mutate(ctx, id, &actor, gate.ActionTransition, func(s *step, c *models.DepositContract) error {
		if err := requireStatus(c, models.ContractStatusWaitingOfficial); err != nil {
			return err
		}
		ps, err := paymentsOf(s.tx, c)
		if err != nil {
			return err
		}
		now := s.now
		c.SignedAt = &now
		live := ps.live()
		switch {
		case len(live) == 0:
			if _, err := d.requestDeposit(s, c); err != nil {
				return err
			}
			c.Status = models.ContractStatusPendingPayment
		case live.hasPending():
			c.Status = models.ContractStatusPendingPayment
		default:
			d.activate(s, c)
		}
		return nil
	})
}

func (d *DepositService) activate(s *step, c *models.DepositContract) {
	c.Status = models.ContractStatusActive
	s.out.notifyContract(c, models.NotificationContractUpdate, "Deposit contract active",
		fmt.Sprintf("Deposit contract %s is now active", c.ContractNumber),
		nil, c.CustomerID, s.property.OwnerID, uidOf(c.AgentID))
}

// OnDepositPaymentCompleted is called once a deposit payment settles.
// Before paperwork completes it does nothing: paperwork completion activates.
func (d *DepositService) OnDepositPaymentCompleted(ctx context.Context, id uint) (*models.DepositContract, error) {
	return d.wf.mutate(ctx, id, nil, "", func(s *step, c *models.DepositContract) error {
		switch c.Status {
		case models.ContractStatusWaitingOfficial:
			d.wf.deps.Logger.Info("deposit paid before paperwork completed",
				"contract", c.ContractNumber)
			return nil
		case models.ContractStatusActive, models.ContractStatusCompleted:
			return nil
		case models.ContractStatusPendingPayment:
		default:
			return apperr.BadRequestf("Deposit payment cannot complete a contract in %s status", c.Status)
		}
		ps, err := paymentsOf(s.tx, c)
		if err != nil {
			return err
		}
		if !ps.live().allSettled() {
			d.wf.deps.Logger.Warn("deposit contract still has pending payments", "contract", c.ContractNumber)
			return nil
		}
		d.activate(s, c)
		return nil
	})
}

// Cancel ends a deposit contract at the request of the customer or the
// property owner. Once the deposit settled, a customer cancellation forfeits
// it to the owner, and an owner cancellation refunds it to the customer
// together with the cancellation penalty.
func (d *DepositService) Cancel(ctx context.Context, actor auth.Actor, id uint, reason string) (*models.DepositContract, error) {
	return d.wf.mutate(ctx, id, &actor, gate.ActionCancel, func(s *step, c *models.DepositContract) error {
		if err := requireNotTerminal(c); err != nil {
			return err
		}
		var by models.CancelledBy
		switch actor.UserID {
		case c.CustomerID:
			by = models.CancelledByCustomer
		case s.property.OwnerID:
			by = models.CancelledByOwner
		default:
			return apperr.Forbidden("Only the customer or the property owner can cancel a deposit contract")
		}

		funded := c.Status == models.ContractStatusActive || c.Status == models.ContractStatusPendingPayment
		ps, err := paymentsOf(s.tx, c)
		if err != nil {
			return err
		}
		if paid := ps.ofType(models.PaymentTypeDeposit).settled(); funded && len(paid) > 0 {
			paymentID := paid[0].ID
			if by == models.CancelledByCustomer {
				_, err = d.wf.payouts.trigger(s.ctx, s.tx, s.out, actor.UserID, payoutRequest{
					contract: c, paymentID: &paymentID, recipientID: s.property.OwnerID,
					purpose: models.PayoutDepositForfeit, amount: c.DepositAmount,
					description: "Forfeited deposit of " + c.ContractNumber,
				})
				if err != nil {
					return err
				}
			} else {
				_, err = d.wf.payouts.trigger(s.ctx, s.tx, s.out, actor.UserID, payoutRequest{
					contract: c, paymentID: &paymentID, recipientID: c.CustomerID,
					purpose: models.PayoutDepositRefund, amount: c.DepositAmount,
					description: "Deposit refund of " + c.ContractNumber,
				})
				if err != nil {
					return err
				}
				_, err = d.wf.payouts.trigger(s.ctx, s.tx, s.out, actor.UserID, payoutRequest{
					contract: c, paymentID: &paymentID, recipientID: c.CustomerID,
					purpose: models.PayoutCancellationPenalty, amount: c.Penalty(),
					description: "Cancellation penalty of " + c.ContractNumber,
				})
				if err != nil {
					return err
				}
			}
		}
		if err := d.wf.ledger.cancelPending(s.tx, c); err != nil {
			return err
		}
		c.MarkCancelled(reason, by, actor.UserID, s.now)
		s.out.notifyContract(c, models.NotificationContractUpdate, "Deposit contract cancelled",
			fmt.Sprintf("Deposit contract %s was cancelled by the %s", c.ContractNumber, lower(by)),
			nil, c.CustomerID, s.property.OwnerID, uidOf(c.AgentID))
		return nil
	})
}

// Void cancels without moving money. Admin only.
func (d *DepositService) Void(ctx context.Context, actor auth.Actor, id uint, reason string) (*models.DepositContract, error) {
	return d.wf.void(ctx, actor, id, reason, nil)
}

// CompleteDepositContract returns the deposit to the customer and completes
// the contract. It is called when the main contract linked to it reaches its
// settled state.
func (d *DepositService) CompleteDepositContract(ctx context.Context, id uint) (*models.DepositContract, error) {
	return d.wf.mutate(ctx, id, nil, "", func(s *step, c *models.DepositContract) error {
		if err := requireStatus(c, models.ContractStatusActive); err != nil {
			return err
		}
		_, err := d.wf.payouts.trigger(s.ctx, s.tx, s.out, 0, payoutRequest{
			contract: c, recipientID: c.CustomerID,
			purpose: models.PayoutDepositReturn, amount: c.DepositAmount,
			description: "Deposit return of " + c.ContractNumber,
		})
		if err != nil {
			return err
		}
		c.Status = models.ContractStatusCompleted
		s.out.notifyContract(c, models.NotificationContractUpdate, "Deposit contract completed",
			fmt.Sprintf("Deposit contract %s is completed and the deposit is returned", c.ContractNumber),
			nil, c.CustomerID, s.property.OwnerID, uidOf(c.AgentID))
		return nil
	})
}

// link reserves a deposit for a main contract being drafted. keep is true
// when the main contract already holds this deposit.
func (d *DepositService) link(s *step, depositID uint, main models.MainContractType, base *models.ContractBase, price decimal.Decimal, keep bool) error {
	dep, err := d.wf.load(s.tx, depositID, true)
	if err != nil {
		return err
	}
	switch {
	case dep.Status != models.ContractStatusActive:
		return apperr.BadRequestf("Deposit contract must be ACTIVE, it is %s", dep.Status)
	case dep.IsExpired(s.now):
		return apperr.BadRequest("Deposit contract has expired")
	case dep.MainContractType != main:
		return apperr.BadRequestf("Deposit contract is for a %s contract", dep.MainContractType)
	case dep.PropertyID != base.PropertyID:
		return apperr.BadRequest("Deposit contract is for a different property")
	case dep.CustomerID != base.CustomerID:
		return apperr.BadRequest("Deposit contract belongs to a different customer")
	case !dep.AgreedPrice.Equal(price):
		return apperr.BadRequestf("Deposit agreed price %s does not match %s", dep.AgreedPrice, price)
	case dep.LinkedToMainContract && !keep:
		return apperr.BadRequest("Deposit contract is already linked to another contract")
	}
	if dep.LinkedToMainContract {
		return nil
	}
	if err := s.tx.Model(dep).Update("linked_to_main_contract", true).Error; err != nil {
		return fmt.Errorf("link deposit: %w", err)
	}
	return audit(s.tx, s.actor.UserID, models.ContractKindDeposit, dep.ID, "link", "linked_to_main_contract", "false", "true", "")
}

// unlink releases a deposit held by a main contract that was deleted or cancelled.
func (d *DepositService) unlink(s *step, depositID *uint) error {
	if depositID == nil {
		return nil
	}
	err := s.tx.Model(&models.DepositContract{}).
		Where("id = ?", *depositID).
		Update("linked_to_main_contract", false).Error
	if err != nil {
		return fmt.Errorf("unlink deposit: %w", err)
	}
	return audit(s.tx, s.actor.UserID, models.ContractKindDeposit, *depositID, "unlink", "linked_to_main_contract", "true", "false", "")
}

// relink moves a main contract from deposit old to deposit next.
func (d *DepositService) relink(s *step, old, next *uint, main models.MainContractType, base *models.ContractBase, price decimal.Decimal) error {
	same := old != nil && next != nil && *old == *next
	if old != nil && !same {
		if err := d.unlink(s, old); err != nil {
			return err
		}
	}
	if next == nil {
		return nil
	}
	return d.link(s, *next, main, base, price, same)
}
