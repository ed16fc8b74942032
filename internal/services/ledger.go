package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/diewo77/go-brokerage/internal/gateway"
	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger records payment obligations and their settlement.
type Ledger struct {
	deps *Deps
}

// PaymentKey is the gateway idempotency key of a payment session.
func PaymentKey(paymentID uint) string {
	return "payment:" + strconv.FormatUint(uint64(paymentID), 10)
}

type newPayment struct {
	Type        models.PaymentType
	Amount      decimal.Decimal
	DueDate     time.Time // zero means DueDays from now
	Installment int       // 0 for non-installment payments
	Description string
}

// create inserts a PENDING payment for c and opens its checkout session. A
// gateway failure is returned so the caller's transaction rolls back.
func (l *Ledger) create(ctx context.Context, tx *gorm.DB, c models.Contract, np newPayment) (*models.Payment, error) {
	if !np.Amount.IsPositive() {
		return nil, apperr.BadRequestf("%s payment amount must be greater than zero", np.Type)
	}
	base := c.Base()
	now := l.deps.Now()
	p := &models.Payment{
		ContractKind: c.Kind(),
		ContractID:   base.ID,
		PropertyID:   base.PropertyID,
		Type:         np.Type,
		Amount:       np.Amount,
		DueDate:      np.DueDate,
		Status:       models.PaymentStatusPending,
	}
	if p.DueDate.IsZero() {
		p.DueDate = now.AddDate(0, 0, l.deps.DueDays)
	}
	if np.Installment > 0 {
		n := np.Installment
		p.InstallmentNumber = &n
	}
	if err := tx.Create(p).Error; err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	desc := np.Description
	if desc == "" {
		desc = fmt.Sprintf("%s payment for %s", np.Type, base.ContractNumber)
	}
	sess, err := l.deps.Gateway.CreatePaymentSession(ctx, gateway.PaymentSessionRequest{
		Amount:      p.Amount,
		Currency:    l.deps.Currency,
		Description: desc,
		Metadata: map[string]string{
			"contract_kind":   string(c.Kind()),
			"contract_id":     strconv.FormatUint(uint64(base.ID), 10),
			"contract_number": base.ContractNumber,
			"payment_type":    string(np.Type),
		},
		IdempotencyKey: PaymentKey(p.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("open payment session: %w", err)
	}
	p.GatewaySessionID = sess.SessionID
	p.CheckoutURL = sess.CheckoutURL
	if err := tx.Model(p).Updates(map[string]any{
		"gateway_session_id": p.GatewaySessionID,
		"checkout_url":       p.CheckoutURL,
	}).Error; err != nil {
		return nil, fmt.Errorf("store payment session: %w", err)
	}
	return p, nil
}

// cancelPending cancels the open payments of a contract that is leaving the workflow.
func (l *Ledger) cancelPending(tx *gorm.DB, c models.Contract) error {
	err := tx.Model(&models.Payment{}).
		Where("contract_kind = ? AND contract_id = ? AND status = ?", c.Kind(), c.Base().ID, models.PaymentStatusPending).
		Update("status", models.PaymentStatusCancelled).Error
	if err != nil {
		return fmt.Errorf("cancel pending payments: %w", err)
	}
	return nil
}

func paymentsOf(tx *gorm.DB, c models.Contract) (paymentSet, error) {
	var ps []models.Payment
	err := tx.Where("contract_kind = ? AND contract_id = ?", c.Kind(), c.Base().ID).
		Order("id").Find(&ps).Error
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	return ps, nil
}

// Payment loads one payment.
func (l *Ledger) Payment(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := l.deps.DB.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Payment not found")
		}
		return nil, fmt.Errorf("load payment: %w", err)
	}
	return &p, nil
}

func (l *Ledger) markConfirmed(ctx context.Context, id uint) error {
	err := l.deps.DB.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND confirmed_at IS NULL", id).
		Update("confirmed_at", l.deps.Now()).Error
	if err != nil {
		return fmt.Errorf("mark payment confirmed: %w", err)
	}
	return nil
}

// Settle moves a PENDING payment to status. Repeating the same status is a
// no-op and reports changed=false, so a redelivered confirmation is harmless.
func (l *Ledger) Settle(ctx context.Context, paymentID uint, status models.PaymentStatus) (p *models.Payment, changed bool, err error) {
	switch status {
	case models.PaymentStatusSuccess, models.PaymentStatusSystemSuccess,
		models.PaymentStatusFailed, models.PaymentStatusCancelled:
	default:
		return nil, false, apperr.BadRequestf("Invalid payment status %q", status)
	}
	p, err = l.Payment(ctx, paymentID)
	if err != nil {
		return nil, false, err
	}
	if p.Status == status || (p.IsSettled() && status.IsSettled()) {
		return p, false, nil
	}
	if p.Status != models.PaymentStatusPending {
		return nil, false, apperr.BadRequestf("Payment is already %s", p.Status)
	}

	updates := map[string]any{"status": status}
	if status.IsSettled() {
		now := l.deps.Now()
		updates["paid_at"] = now
		p.PaidAt = &now
	}
	res := l.deps.DB.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", p.ID, models.PaymentStatusPending).
		Updates(updates)
	if res.Error != nil {
		return nil, false, fmt.Errorf("settle payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Lost a race with another confirmation; report what it wrote.
		p, err = l.Payment(ctx, paymentID)
		if err != nil {
			return nil, false, err
		}
		if p.Status == status || (p.IsSettled() && status.IsSettled()) {
			return p, false, nil
		}
		return nil, false, apperr.BadRequestf("Payment is already %s", p.Status)
	}
	p.Status = status
	return p, true, nil
}

// Reconcile asks the gateway for the state of a payment session and applies it.
// A session the provider reports PAID settles as SYSTEM_SUCCESS.
func (l *Ledger) Reconcile(ctx context.Context, sessionID string) (*models.Payment, bool, error) {
	var p models.Payment
	err := l.deps.DB.WithContext(ctx).Where("gateway_session_id = ?", sessionID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperr.NotFound("Payment not found")
	}
	if err != nil {
		return nil, false, fmt.Errorf("load payment: %w", err)
	}
	if p.Status != models.PaymentStatusPending {
		return &p, false, nil
	}
	info, err := l.deps.Gateway.GetPaymentSession(ctx, sessionID)
	if errors.Is(err, gateway.ErrSessionNotFound) {
		return nil, false, apperr.NotFound("Payment session not found")
	}
	if err != nil {
		return nil, false, fmt.Errorf("query payment session: %w", err)
	}
	switch info.Status {
	case gateway.SessionPaid:
		return l.Settle(ctx, p.ID, models.PaymentStatusSystemSuccess)
	case gateway.SessionCancelled:
		return l.Settle(ctx, p.ID, models.PaymentStatusCancelled)
	case gateway.SessionExpired:
		return l.Settle(ctx, p.ID, models.PaymentStatusFailed)
	}
	return &p, false, nil
}

// paymentSet is the payment list of one contract.
type paymentSet []models.Payment

func (ps paymentSet) filter(keep func(p *models.Payment) bool) paymentSet {
	var out paymentSet
	for i := range ps {
		if keep(&ps[i]) {
			out = append(out, ps[i])
		}
	}
	return out
}

func (ps paymentSet) ofType(t models.PaymentType) paymentSet {
	return ps.filter(func(p *models.Payment) bool { return p.Type == t })
}

func (ps paymentSet) settled() paymentSet {
	return ps.filter(func(p *models.Payment) bool { return p.IsSettled() })
}

// live drops failed and cancelled payments.
func (ps paymentSet) live() paymentSet {
	return ps.filter(func(p *models.Payment) bool {
		return p.IsSettled() || p.Status == models.PaymentStatusPending
	})
}

func (ps paymentSet) hasPending() bool {
	for i := range ps {
		if ps[i].Status == models.PaymentStatusPending {
			return true
		}
	}
	return false
}

// allSettled is true when at least one payment settled and none is pending.
func (ps paymentSet) allSettled() bool {
	return len(ps.settled()) > 0 && !ps.hasPending()
}

func (ps paymentSet) total() decimal.Decimal {
	sum := decimal.Zero
	for i := range ps {
		sum = sum.Add(ps[i].Amount)
	}
	return sum
}

func (ps paymentSet) find(id uint) *models.Payment {
	for i := range ps {
		if ps[i].ID == id {
			return &ps[i]
		}
	}
	return nil
}

func (ps paymentSet) lastInstallment() int {
	n := 0
	for i := range ps {
		if k := ps[i].Installment(); k > n {
			n = k
		}
	}
	return n
}
