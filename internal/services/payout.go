package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/diewo77/go-brokerage/auth"
	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/diewo77/go-brokerage/internal/gateway"
	"github.com/diewo77/go-brokerage/internal/lock"
	"github.com/diewo77/go-brokerage/internal/lookup"
	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Payouts sends money from the platform to a customer or property owner.
type Payouts struct {
	deps *Deps
}

// PayoutOutcome reports what a trigger did. Status is empty when there was
// nothing to pay.
type PayoutOutcome struct {
	PayoutID  uint
	Status    models.PayoutStatus
	Reason    string
	SessionID string
	// Replayed is set when the payout was already recorded by an earlier call.
	Replayed bool
}

func (o PayoutOutcome) Sent() bool     { return o.Status == models.PayoutStatusSent }
func (o PayoutOutcome) Deferred() bool { return o.Status == models.PayoutStatusDeferred }

// PayoutKey derives the idempotency key of a payout from its business
// identity, so a retried transition never pays twice.
func PayoutKey(kind models.ContractKind, contractID uint, purpose models.PayoutPurpose, paymentID *uint) string {
	key := fmt.Sprintf("payout:%s:%d:%s", kind, contractID, purpose)
	if paymentID != nil {
		key += ":" + strconv.FormatUint(uint64(*paymentID), 10)
	}
	return key
}

type payoutRequest struct {
	contract    models.Contract
	paymentID   *uint
	recipientID uint
	purpose     models.PayoutPurpose
	amount      decimal.Decimal
	description string
}

// trigger pays req inside the workflow transaction. A payout already recorded
// under the same key is returned as is. A recipient without bank details gets
// a DEFERRED record and the admins are alerted. A gateway failure is returned
// and rolls the transition back.
func (p *Payouts) trigger(ctx context.Context, tx *gorm.DB, ob *outbox, actorID uint, req payoutRequest) (PayoutOutcome, error) {
	if !req.amount.IsPositive() {
		return PayoutOutcome{}, nil
	}
	base := req.contract.Base()
	kind := req.contract.Kind()
	key := PayoutKey(kind, base.ID, req.purpose, req.paymentID)

	var existing models.Payout
	err := tx.Where("idempotency_key = ?", key).First(&existing).Error
	if err == nil {
		out := outcomeOf(&existing)
		out.Replayed = true
		return out, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return PayoutOutcome{}, fmt.Errorf("load payout: %w", err)
	}

	catalog := lookup.NewGormCatalog(tx)
	recipient, err := catalog.FindUser(ctx, req.recipientID)
	if err != nil {
		return PayoutOutcome{}, err
	}
	row := models.Payout{
		IdempotencyKey: key,
		ContractKind:   kind,
		ContractID:     base.ID,
		PaymentID:      req.paymentID,
		RecipientID:    recipient.ID,
		Purpose:        req.purpose,
		Amount:         req.amount,
		Description:    req.description,
	}

	if !recipient.HasBankDetails() {
		row.Status = models.PayoutStatusDeferred
		row.Reason = "missing bank details: " + strings.Join(recipient.MissingBankFields(), ", ")
		if err := tx.Create(&row).Error; err != nil {
			return PayoutOutcome{}, fmt.Errorf("record deferred payout: %w", err)
		}
		if err := audit(tx, actorID, kind, base.ID, "payout_deferred", "payout", "", string(req.purpose), row.Reason); err != nil {
			return PayoutOutcome{}, err
		}
		admins, err := catalog.ListAdmins(ctx)
		if err != nil {
			return PayoutOutcome{}, err
		}
		extra := map[string]any{
			"payout_id":    row.ID,
			"purpose":      string(req.purpose),
			"amount":       req.amount.String(),
			"recipient_id": recipient.ID,
		}
		ids := make([]uint, 0, len(admins))
		for _, a := range admins {
			ids = append(ids, a.ID)
		}
		ob.notifyContract(req.contract, models.NotificationSystemAlert, "Payout deferred",
			fmt.Sprintf("Payout of %s to user %d for %s was deferred: %s", req.amount, recipient.ID, base.ContractNumber, row.Reason),
			extra, ids...)
		p.deps.Logger.Warn("payout deferred",
			"key", key, "recipient_id", recipient.ID, "amount", req.amount.String(), "reason", row.Reason)
		return outcomeOf(&row), nil
	}

	sessionID, err := p.send(ctx, recipient, key, req.amount, req.description, kind, base.ID)
	if err != nil {
		return PayoutOutcome{}, fmt.Errorf("payout %s: %w", req.purpose, err)
	}
	now := p.deps.Now()
	row.Status = models.PayoutStatusSent
	row.SessionID = sessionID
	row.SentAt = &now
	if err := tx.Create(&row).Error; err != nil {
		return PayoutOutcome{}, fmt.Errorf("record payout: %w", err)
	}
	ob.notifyContract(req.contract, models.NotificationPayout, "Payout sent",
		fmt.Sprintf("%s has been transferred to your bank account: %s", req.amount, req.description),
		map[string]any{"payout_id": row.ID, "amount": req.amount.String(), "purpose": string(req.purpose)},
		recipient.ID)
	return outcomeOf(&row), nil
}

func (p *Payouts) send(ctx context.Context, recipient *models.User, key string, amount decimal.Decimal, desc string, kind models.ContractKind, contractID uint) (string, error) {
	return p.deps.Gateway.CreatePayoutSession(ctx, gateway.PayoutRequest{
		Amount:            amount,
		Currency:          p.deps.Currency,
		AccountNumber:     recipient.BankAccountNumber,
		AccountHolderName: recipient.BankAccountHolder,
		BankCode:          recipient.BankCode,
		Description:       desc,
		Metadata: map[string]string{
			"contract_kind": string(kind),
			"contract_id":   strconv.FormatUint(uint64(contractID), 10),
		},
		IdempotencyKey: key,
	})
}

func outcomeOf(row *models.Payout) PayoutOutcome {
	return PayoutOutcome{PayoutID: row.ID, Status: row.Status, Reason: row.Reason, SessionID: row.SessionID}
}

// Deferred lists the payouts waiting for bank details. Admin only.
func (p *Payouts) Deferred(ctx context.Context, actor auth.Actor) ([]models.Payout, error) {
	if !p.deps.Gate.IsAdmin(ctx, actor) {
		return nil, apperr.Forbidden("Only admins can list deferred payouts")
	}
	var rows []models.Payout
	err := p.deps.DB.WithContext(ctx).
		Where("status = ?", models.PayoutStatusDeferred).
		Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list deferred payouts: %w", err)
	}
	return rows, nil
}

// Retry sends a DEFERRED payout once the recipient has bank details, under
// its original idempotency key. Admin only.
func (p *Payouts) Retry(ctx context.Context, actor auth.Actor, payoutID uint) (PayoutOutcome, error) {
	if !p.deps.Gate.IsAdmin(ctx, actor) {
		return PayoutOutcome{}, apperr.Forbidden("Only admins can retry payouts")
	}
	var head models.Payout
	if err := p.deps.DB.WithContext(ctx).Select("id", "contract_kind", "contract_id").First(&head, payoutID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PayoutOutcome{}, apperr.NotFound("Payout not found")
		}
		return PayoutOutcome{}, fmt.Errorf("load payout: %w", err)
	}
	unlock, err := p.deps.Locker.Lock(ctx, lock.ContractKey(head.ContractKind, head.ContractID))
	if err != nil {
		return PayoutOutcome{}, err
	}
	defer unlock()

	var out PayoutOutcome
	err = p.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Payout
		if err := forUpdate(tx).First(&row, payoutID).Error; err != nil {
			return fmt.Errorf("load payout: %w", err)
		}
		if row.Status == models.PayoutStatusSent {
			out = outcomeOf(&row)
			return nil
		}
		recipient, err := lookup.NewGormCatalog(tx).FindUser(ctx, row.RecipientID)
		if err != nil {
			return err
		}
		if !recipient.HasBankDetails() {
			return apperr.BadRequestf("Recipient bank details are still missing: %s",
				strings.Join(recipient.MissingBankFields(), ", "))
		}
		sessionID, err := p.send(ctx, recipient, row.IdempotencyKey, row.Amount, row.Description, row.ContractKind, row.ContractID)
		if err != nil {
			return fmt.Errorf("payout %s: %w", row.Purpose, err)
		}
		now := p.deps.Now()
		row.Status = models.PayoutStatusSent
		row.Reason = ""
		row.SessionID = sessionID
		row.SentAt = &now
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("update payout: %w", err)
		}
		if err := audit(tx, actor.UserID, row.ContractKind, row.ContractID, "payout_retried", "payout",
			string(models.PayoutStatusDeferred), string(models.PayoutStatusSent), string(row.Purpose)); err != nil {
			return err
		}
		out = outcomeOf(&row)
		return nil
	})
	return out, err
}

// forUpdate adds a row lock where the dialect supports it.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
