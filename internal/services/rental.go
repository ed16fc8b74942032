package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-brokerage/auth"
	"github.com/diewo77/go-brokerage/gate"
	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/diewo77/go-brokerage/internal/reporting"
	"github.com/diewo77/go-brokerage/validation"
	"github.com/shopspring/decimal"
)

// RentalInput creates or replaces a DRAFT rental contract.
type RentalInput struct {
	PropertyID             uint            `json:"property_id"`
	CustomerID             uint            `json:"customer_id"`
	AgentID                *uint           `json:"agent_id,omitempty"`
	StartDate              time.Time       `json:"start_date"`
	MonthCount             int             `json:"month_count"`
	MonthlyRentAmount      decimal.Decimal `json:"monthly_rent_amount"`
	CommissionAmount       decimal.Decimal `json:"commission_amount"`
	SecurityDepositAmount  decimal.Decimal `json:"security_deposit_amount"`
	LatePaymentPenaltyRate decimal.Decimal `json:"late_payment_penalty_rate"`
	DepositContractID      *uint           `json:"deposit_contract_id,omitempty"`
	SpecialTerms           string          `json:"special_terms,omitempty"`
}

func (in RentalInput) validate() error {
	v := validation.Violations{}
	validation.RequiredID("property_id", in.PropertyID, v)
	validation.RequiredID("customer_id", in.CustomerID, v)
	requiredDate("start_date", in.StartDate, v)
	validation.PositiveInt("month_count", in.MonthCount, v)
	validation.PositiveAmount("monthly_rent_amount", in.MonthlyRentAmount, v)
	validation.NonNegativeAmount("commission_amount", in.CommissionAmount, v)
	validation.NonNegativeAmount("security_deposit_amount", in.SecurityDepositAmount, v)
	validation.NonNegativeAmount("late_payment_penalty_rate", in.LatePaymentPenaltyRate, v)
	if in.LatePaymentPenaltyRate.GreaterThan(decimal.NewFromInt(1)) {
		v["late_payment_penalty_rate"] = "must_not_exceed_one"
	}
	if !v.Empty() {
		return invalid(v)
	}
	if !in.CommissionAmount.LessThan(in.MonthlyRentAmount) {
		return apperr.Invalid("Commission amount must be less than monthly rent",
			map[string]string{"commission_amount": "must_be_less_than_limit"})
	}
	return nil
}

// SecurityDepositDecision is the admin's resolution of a held security deposit.
type SecurityDepositDecision string

const (
	ReturnToCustomer SecurityDepositDecision = "RETURN_TO_CUSTOMER"
	TransferToOwner  SecurityDepositDecision = "TRANSFER_TO_OWNER"
)

// RentalService runs the rental contract workflow: an optional security
// deposit before paperwork, the first month's rent to activate, then one
// installment per month until the term ends.
type RentalService struct {
	wf       *workflow[models.RentalContract, *models.RentalContract]
	deposits *DepositService
}

func newRentalService(d *Deps, ledger *Ledger, payouts *Payouts, deposits *DepositService) *RentalService {
	return &RentalService{
		wf: &workflow[models.RentalContract, *models.RentalContract]{
			deps: d, kind: models.ContractKindRental, ledger: ledger, payouts: payouts,
		},
		deposits: deposits,
	}
}

func (r *RentalService) apply(s *step, c *models.RentalContract, in RentalInput) error {
	if err := in.validate(); err != nil {
		return err
	}
	if err := r.wf.resolveParties(s, &c.ContractBase, in.PropertyID, in.CustomerID); err != nil {
		return err
	}
	if c.AgentID == nil || in.AgentID != nil {
		if err := r.wf.assignAgent(s, &c.ContractBase, in.AgentID); err != nil {
			return err
		}
	}
	if err := r.deposits.relink(s, c.DepositContractID, in.DepositContractID,
		models.MainContractRental, &c.ContractBase, in.MonthlyRentAmount); err != nil {
		return err
	}
	c.StartDate = in.StartDate
	c.MonthCount = in.MonthCount
	c.EndDate = models.RentEndDate(in.StartDate, in.MonthCount)
	c.MonthlyRentAmount = in.MonthlyRentAmount
	c.CommissionAmount = in.CommissionAmount
	c.SecurityDepositAmount = in.SecurityDepositAmount
	c.LatePaymentPenaltyRate = in.LatePaymentPenaltyRate
	c.DepositContractID = in.DepositContractID
	c.SpecialTerms = in.SpecialTerms
	if c.SecurityDepositStatus == "" {
		c.SecurityDepositStatus = models.SecurityDepositNotPaid
	}
	c.AccumulatedUnpaidPenalty = decimal.Zero
	return nil
}

// Create drafts a rental contract, reserving the linked deposit if any.
func (r *RentalService) Create(ctx context.Context, actor auth.Actor, in RentalInput) (*models.RentalContract, error) {
	return r.wf.create(ctx, actor, func(s *step, c *models.RentalContract) error {
		return r.apply(s, c, in)
	})
}

func (r *RentalService) Update(ctx context.Context, actor auth.Actor, id uint, in RentalInput) (*models.RentalContract, error) {
	return r.wf.update(ctx, actor, id, func(s *step, c *models.RentalContract) error {
		return r.apply(s, c, in)
	})
}

// Delete removes a DRAFT rental contract and releases its deposit.
func (r *RentalService) Delete(ctx context.Context, actor auth.Actor, id uint) error {
	return r.wf.remove(ctx, actor, id, func(s *step, c *models.RentalContract) error {
		return r.deposits.unlink(s, c.DepositContractID)
	})
}

func (r *RentalService) Get(ctx context.Context, actor auth.Actor, id uint) (*models.RentalContract, error) {
	return r.wf.get(ctx, actor, id)
}

func (r *RentalService) Payments(ctx context.Context, actor auth.Actor, id uint) ([]models.Payment, error) {
	return r.wf.payments(ctx, actor, id)
}

func (r *RentalService) Approve(ctx context.Context, actor auth.Actor, id uint) (*models.RentalContract, error) {
	return r.wf.approve(ctx, actor, id, nil)
}

func (r *RentalService) request(s *step, c *models.RentalContract, np newPayment, title string) (*models.Payment, error) {
	pay, err := r.wf.ledger.create(s.ctx, s.tx, c, np)
	if err != nil {
		return nil, err
	}
	s.out.notifyContract(c, models.NotificationPaymentDue, title+" due",
		fmt.Sprintf("Please pay %s for %s before %s", pay.Amount, c.ContractNumber, pay.DueDate.Format("2006-01-02")),
		map[string]any{"payment_id": pay.ID, "amount": pay.Amount.String(), "checkout_url": pay.CheckoutURL},
		c.CustomerID)
	return pay, nil
}

// CreateSecurityDepositPayment requests the security deposit. It is only
// possible before paperwork completes, and only once.
func (r *RentalService) CreateSecurityDepositPayment(ctx context.Context, actor auth.Actor, id uint) (*models.Payment, error) {
	var pay *models.Payment
	_, err := r.wf.mutate(ctx, id, &actor, gate.ActionTransition, func(s *step, c *models.RentalContract) error {
		if err := requireStatus(c, models.ContractStatusWaitingOfficial); err != nil {
			return err
		}
		if !c.RequiresSecurityDeposit() {
			return apperr.BadRequest("Security deposit amount must be greater than zero")
		}
		ps, err := paymentsOf(s.tx, c)
		if err != nil {
			return err
		}
		if len(ps.ofType(models.PaymentTypeSecurityDeposit).live()) > 0 {
			return apperr.BadRequest("Security deposit payment already exists for this contract")
		}
		pay, err = r.request(s, c, newPayment{
			Type:        models.PaymentTypeSecurityDeposit,
			Amount:      c.SecurityDepositAmount,
			Description: "Security deposit for " + c.ContractNumber,
		}, "Security deposit")
		return err
	})
	if err != nil {
		return nil, err
	}
	return pay, nil
}

// OnSecurityDepositPaymentCompleted marks the security deposit as held.
func (r *RentalService) OnSecurityDepositPaymentCompleted(ctx context.Context, id uint) (*models.RentalContract, error) {
	return r.wf.mutate(ctx, id, nil, "", func(s *step, c *models.RentalContract) error {
		if c.SecurityDepositStatus != models.SecurityDepositNotPaid {
			return nil
		}
		if err := requireNotTerminal(c); err != nil {
			return err
		}
		ps, err := paymentsOf(s.tx, c)
		if err != nil {
			return err
		}
		if len(ps.ofType(models.PaymentTypeSecurityDeposit).settled()) == 0 {
			return apperr.BadRequest("Security deposit payment has not settled")
		}
		if err := r.setDepositStatus(s, c, models.SecurityDepositHeld, ""); err != nil {
			return err
		}
		s.out.notifyContract(c, models.NotificationSecurityDeposit, "Security deposit received",
			fmt.Sprintf("The security deposit of %s for %s is held", c.SecurityDepositAmount, c.ContractNumber),
			amountExtra(c.SecurityDepositAmount), c.CustomerID, uidOf(c.AgentID))
		return nil
	})
}

func (r *RentalService) setDepositStatus(s *step, c *models.RentalContract, st models.SecurityDepositStatus, note string) error {
	old := c.SecurityDepositStatus
	c.SecurityDepositStatus = st
	return audit(s.tx, s.actor.UserID, c.Kind(), c.ID, "security_deposit", "security_deposit_status", string(old), string(st), note)
}

// MarkPaperworkComplete records the signature and requests the first
// month's rent. A required security deposit must be held first.
func (r *RentalService) MarkPaperworkComplete(ctx context.Context, actor auth.Actor, id uint) (*models.RentalContract, error) {
	return r.wf.mutate(ctx, id, &actor, gate.ActionTransition, func(s *step, c *models.RentalContract) error {
		if err := requireStatus(c, models.ContractStatusWaitingOfficial); err != nil {
			return err
		}
		if c.RequiresSecurityDeposit() && c.SecurityDepositStatus != models.SecurityDepositHeld {
			return apperr.BadRequest("Security deposit must be paid before completing paperwork")
		}
		now := s.now
		c.SignedAt = &now
		if _, err := r.request(s, c, newPayment{
			Type:        models.PaymentTypeMonthly,
			Amount:      c.MonthlyRentAmount,
			Installment: 1,
			Description: "Rent month 1 of " + c.ContractNumber,
		}, "First month's rent"); err != nil {
			return err
		}
		c.Status = models.ContractStatusPendingPayment
		return nil
	})
}

// payRent sends the owner's share of a settled installment and records the
// commission. It reports false when the installment was already paid out.
func (r *RentalService) payRent(s *step, c *models.RentalContract, pay *models.Payment) (bool, error) {
	paymentID := pay.ID
	out, err := r.wf.payouts.trigger(s.ctx, s.tx, s.out, s.actor.UserID, payoutRequest{
		contract: c, paymentID: &paymentID, recipientID: s.property.OwnerID,
		purpose: models.PayoutMonthlyRent, amount: c.OwnerMonthlyShare(),
		description: fmt.Sprintf("Rent month %d of %s", pay.Installment(), c.ContractNumber),
	})
	if err != nil {
		return false, err
	}
	if out.Replayed {
		return false, nil
	}
	s.out.record(reporting.EntryAt(s.now, c.Kind(), c.ID, c.PropertyID, c.CommissionAmount))
	return true, nil
}

// OnFirstMonthRentPaymentCompleted activates the rental once the first
// installment settled, pays the owner and completes the linked deposit.
func (r *RentalService) OnFirstMonthRentPaymentCompleted(ctx context.Context, id uint) (*models.RentalContract, error) {
	return r.wf.mutate(ctx, id, nil, "", func(s *step, c *models.RentalContract) error {
		if c.Status == models.ContractStatusActive || c.Status == models.ContractStatusCompleted {
			return nil
		}
		if err := requireStatus(c, models.ContractStatusPendingPayment); err != nil {
			return err
		}
		ps, err := paymentsOf(s.tx, c)
		if err != nil {
			return err
		}
		var first *models.Payment
		for _, p := range ps.ofType(models.PaymentTypeMonthly).settled() {
			if p.Installment() == 1 {
				first = &p
				break
			}
		}
		if first == nil {
			r.wf.deps.Logger.Warn("first month's rent not settled", "contract", c.ContractNumber)
			return nil
		}
		if _, err := r.payRent(s, c, first); err != nil {
			return err
		}
		c.Status = models.ContractStatusActive
		if c.DepositContractID != nil {
			depositID := *c.DepositContractID
			s.out.after("complete linked deposit", func(ctx context.Context) error {
				_, err := r.deposits.CompleteDepositContract(ctx, depositID)
				return err
			})
		}
		s.out.notifyContract(c, models.NotificationContractUpdate, "Rental active",
			fmt.Sprintf("Rental contract %s is now active", c.ContractNumber),
			nil, c.CustomerID, s.property.OwnerID, uidOf(c.AgentID))
		return nil
	})
}

// OnMonthlyRentPaymentCompleted pays the owner for a later installment. A
// late installment that was counted as unpaid is taken off the count. An
// installment requested before the rental completed is still paid out.
func (r *RentalService) OnMonthlyRentPaymentCompleted(ctx context.Context, id, paymentID uint) (*models.RentalContract, error) {
	return r.wf.mutate(ctx, id, nil, "", func(s *step, c *models.RentalContract) error {
		if err := requireStatus(c, models.ContractStatusActive, models.ContractStatusCompleted); err != nil {
			return err
		}
		ps, err := paymentsOf(s.tx, c)
		if err != nil {
			return err
		}
		pay := ps.find(paymentID)
		if pay == nil || pay.Type != models.PaymentTypeMonthly {
			return apperr.NotFound("Monthly payment not found")
		}
		if !pay.IsSettled() {
			return apperr.BadRequest("Monthly payment has not settled")
		}
		paid, err := r.payRent(s, c, pay)
		if err != nil {
			return err
		}
		if !paid {
			r.wf.deps.Logger.Info("installment already paid out", "contract", c.ContractNumber, "payment_id", pay.ID)
			return nil
		}
		if pay.PenaltyAssessed && c.UnpaidMonthsCount > 0 {
			c.UnpaidMonthsCount--
		}
		return nil
	})
}

// CreateMonthlyRentPayment requests the next installment of an active
// rental. Penalties accrued from late installments are added to it.
func (r *RentalService) CreateMonthlyRentPayment(ctx context.Context, actor auth.Actor, id uint) (*models.Payment, error) {
	var pay *models.Payment
	_, err := r.wf.mutate(ctx, id, &actor, gate.ActionTransition, func(s *step, c *models.RentalContract) error {
		if err := requireStatus(c, models.ContractStatusActive); err != nil {
			return err
		}
		ps, err := paymentsOf(s.tx, c)
		if err != nil {
			return err
		}
		n := ps.ofType(models.PaymentTypeMonthly).live().lastInstallment() + 1
		if n > c.MonthCount {
			return apperr.BadRequestf("All %d installments have already been requested", c.MonthCount)
		}
		due := c.StartDate.AddDate(0, n-1, 0)
		if due.Before(s.now) {
			due = time.Time{}
		}
		amount := c.MonthlyRentAmount.Add(c.AccumulatedUnpaidPenalty)
		pay, err = r.request(s, c, newPayment{
			Type:        models.PaymentTypeMonthly,
			Amount:      amount,
			DueDate:     due,
			Installment: n,
			Description: fmt.Sprintf("Rent month %d of %s", n, c.ContractNumber),
		}, fmt.Sprintf("Rent for month %d", n))
		if err != nil {
			return err
		}
		c.AccumulatedUnpaidPenalty = decimal.Zero
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pay, nil
}

// AssessLatePayments counts every overdue, unassessed installment of active
// rentals as unpaid and accrues its late penalty onto the contract. Admin
// only. It returns the number of installments assessed.
func (r *RentalService) AssessLatePayments(ctx context.Context, actor auth.Actor, now time.Time) (int, error) {
	if !r.wf.deps.Gate.IsAdmin(ctx, actor) {
		return 0, apperr.Forbidden("Only admins can assess late payments")
	}
	var ids []uint
	err := r.wf.deps.DB.WithContext(ctx).Model(&models.Payment{}).
		Where("contract_kind = ? AND type = ? AND status = ? AND due_date < ? AND penalty_assessed = ?",
			models.ContractKindRental, models.PaymentTypeMonthly, models.PaymentStatusPending, now, false).
		Distinct().Order("contract_id").Pluck("contract_id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("find overdue installments: %w", err)
	}
	assessed := 0
	for _, id := range ids {
		_, err := r.wf.mutate(ctx, id, nil, "", func(s *step, c *models.RentalContract) error {
			if c.Status != models.ContractStatusActive {
				return nil
			}
			ps, err := paymentsOf(s.tx, c)
			if err != nil {
				return err
			}
			overdue := ps.ofType(models.PaymentTypeMonthly).filter(func(p *models.Payment) bool {
				return p.Status == models.PaymentStatusPending && !p.PenaltyAssessed && p.DueDate.Before(now)
			})
			for _, p := range overdue {
				if err := s.tx.Model(&models.Payment{}).Where("id = ?", p.ID).
					Update("penalty_assessed", true).Error; err != nil {
					return fmt.Errorf("assess payment: %w", err)
				}
				c.UnpaidMonthsCount++
				c.AccumulatedUnpaidPenalty = c.AccumulatedUnpaidPenalty.Add(c.LatePenalty())
				assessed++
			}
			if len(overdue) > 0 {
				s.out.notifyContract(c, models.NotificationPaymentDue, "Rent overdue",
					fmt.Sprintf("%d rent installment(s) of %s are overdue; a late penalty of %s each was added",
						len(overdue), c.ContractNumber, c.LatePenalty()),
					nil, c.CustomerID, uidOf(c.AgentID))
			}
			return nil
		})
		if err != nil {
			return assessed, err
		}
	}
	return assessed, nil
}

// Complete ends an active rental. A security deposit still held is left for
// an admin decision, and both parties are told.
func (r *RentalService) Complete(ctx context.Context, actor auth.Actor, id uint) (*models.RentalContract, error) {
	return r.wf.mutate(ctx, id, &actor, gate.ActionTransition, func(s *step, c *models.RentalContract) error {
		if err := requireStatus(c, models.ContractStatusActive); err != nil {
			return err
		}
		c.Status = models.ContractStatusCompleted
		s.out.notifyContract(c, models.NotificationContractUpdate, "Rental completed",
			fmt.Sprintf("Rental contract %s is completed", c.ContractNumber),
			nil, c.CustomerID, s.property.OwnerID, uidOf(c.AgentID))
		if c.SecurityDepositStatus == models.SecurityDepositHeld {
			s.out.notifyContract(c, models.NotificationSecurityDeposit, "Security deposit pending decision",
				fmt.Sprintf("The security deposit of %s for %s is held until an administrator decides on it",
					c.SecurityDepositAmount, c.ContractNumber),
				amountExtra(c.SecurityDepositAmount), c.CustomerID, s.property.OwnerID)
		}
		return nil
	})
}

// DecideSecurityDeposit pays a held security deposit back to the customer or
// over to the owner. Admin only.
func (r *RentalService) DecideSecurityDeposit(ctx context.Context, actor auth.Actor, id uint, decision SecurityDepositDecision, reason string) (*models.RentalContract, error) {
	return r.wf.mutate(ctx, id, &actor, gate.ActionDecide, func(s *step, c *models.RentalContract) error {
		if err := requireStatus(c, models.ContractStatusActive, models.ContractStatusCompleted); err != nil {
			return err
		}
		if c.SecurityDepositStatus != models.SecurityDepositHeld {
			return apperr.BadRequestf("Security deposit is %s, not HELD", c.SecurityDepositStatus)
		}
		var (
			recipient uint
			purpose   models.PayoutPurpose
			next      models.SecurityDepositStatus
		)
		switch decision {
		case ReturnToCustomer:
			recipient, purpose, next = c.CustomerID, models.PayoutSecurityDepositReturn, models.SecurityDepositReturnedToCustomer
		case TransferToOwner:
			recipient, purpose, next = s.property.OwnerID, models.PayoutSecurityDepositTransfer, models.SecurityDepositTransferredToOwner
		default:
			return apperr.Invalid("Invalid security deposit decision", map[string]string{"decision": "invalid_value"})
		}
		return r.releaseDeposit(s, c, recipient, purpose, next, reason)
	})
}

func (r *RentalService) releaseDeposit(s *step, c *models.RentalContract, recipient uint, purpose models.PayoutPurpose, next models.SecurityDepositStatus, reason string) error {
	out, err := r.wf.payouts.trigger(s.ctx, s.tx, s.out, s.actor.UserID, payoutRequest{
		contract: c, recipientID: recipient,
		purpose: purpose, amount: c.SecurityDepositAmount,
		description: "Security deposit of " + c.ContractNumber,
	})
	if err != nil {
		return err
	}
	note := reason
	if out.Deferred() {
		note = strings.TrimSpace(reason + " (payout deferred: " + out.Reason + ")")
	}
	if err := r.setDepositStatus(s, c, next, note); err != nil {
		return err
	}
	now := s.now
	c.SecurityDepositDecisionReason = reason
	c.SecurityDepositDecidedAt = &now
	msg := fmt.Sprintf("The security deposit of %s for %s was %s", c.SecurityDepositAmount, c.ContractNumber, lower(next))
	if out.Deferred() {
		msg += "; the transfer is on hold until bank details are provided"
	}
	s.out.notifyContract(c, models.NotificationSecurityDeposit, "Security deposit decided", msg,
		map[string]any{"decision": string(next), "reason": reason, "payout_status": string(out.Status)},
		c.CustomerID, s.property.OwnerID)
	return nil
}

// Cancel ends a rental. A held security deposit goes back to the customer.
func (r *RentalService) Cancel(ctx context.Context, actor auth.Actor, id uint, reason string) (*models.RentalContract, error) {
	return r.wf.mutate(ctx, id, &actor, gate.ActionCancel, func(s *step, c *models.RentalContract) error {
		if err := requireNotTerminal(c); err != nil {
			return err
		}
		if c.SecurityDepositStatus == models.SecurityDepositHeld {
			if err := r.releaseDeposit(s, c, c.CustomerID, models.PayoutSecurityDepositReturn,
				models.SecurityDepositReturnedToCustomer, "Returned on cancellation"); err != nil {
				return err
			}
		}
		if err := r.wf.ledger.cancelPending(s.tx, c); err != nil {
			return err
		}
		if err := r.deposits.unlink(s, c.DepositContractID); err != nil {
			return err
		}
		by := r.wf.cancellerOf(s, c)
		c.MarkCancelled(reason, by, actor.UserID, s.now)
		s.out.notifyContract(c, models.NotificationContractUpdate, "Rental contract cancelled",
			fmt.Sprintf("Rental contract %s was cancelled by the %s", c.ContractNumber, lower(by)),
			nil, c.CustomerID, s.property.OwnerID, uidOf(c.AgentID))
		return nil
	})
}

// Void cancels the rental by admin decision. A held security deposit goes
// back to the customer, as on cancellation. Admin only.
func (r *RentalService) Void(ctx context.Context, actor auth.Actor, id uint, reason string) (*models.RentalContract, error) {
	return r.wf.void(ctx, actor, id, reason, func(s *step, c *models.RentalContract) error {
		if err := r.deposits.unlink(s, c.DepositContractID); err != nil {
			return err
		}
		if c.SecurityDepositStatus != models.SecurityDepositHeld {
			return nil
		}
		return r.releaseDeposit(s, c, c.CustomerID, models.PayoutSecurityDepositReturn,
			models.SecurityDepositReturnedToCustomer, "Returned on void")
	})
}
