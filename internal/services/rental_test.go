package services

import (
	"testing"

	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/shopspring/decimal"
)

func (f *fixture) rentalInput(rent, commission, security int64) RentalInput {
	return RentalInput{
		PropertyID:             f.property.ID,
		CustomerID:             f.customer.UserID,
		StartDate:              f.now,
		MonthCount:             12,
		MonthlyRentAmount:      amount(rent),
		CommissionAmount:       amount(commission),
		SecurityDepositAmount:  amount(security),
		LatePaymentPenaltyRate: decimal.RequireFromString("0.05"),
	}
}

// activeRental walks a rental with a security deposit to ACTIVE.
func (f *fixture) activeRental(in RentalInput) *models.RentalContract {
	f.t.Helper()
	r := f.svc.Rentals
	c, err := r.Create(f.ctx, f.agent, in)
	if err != nil {
		f.t.Fatalf("create rental: %v", err)
	}
	if _, err := r.Approve(f.ctx, f.agent, c.ID); err != nil {
		f.t.Fatalf("approve rental: %v", err)
	}
	if c.RequiresSecurityDeposit() {
		pay, err := r.CreateSecurityDepositPayment(f.ctx, f.agent, c.ID)
		if err != nil {
			f.t.Fatalf("security deposit payment: %v", err)
		}
		f.settle(pay.ID)
	}
	if _, err := r.MarkPaperworkComplete(f.ctx, f.agent, c.ID); err != nil {
		f.t.Fatalf("paperwork: %v", err)
	}
	f.settle(f.onlyPayment(c, models.PaymentTypeMonthly).ID)
	c, err = r.Get(f.ctx, f.agent, c.ID)
	if err != nil {
		f.t.Fatalf("get rental: %v", err)
	}
	if c.Status != models.ContractStatusActive {
		f.t.Fatalf("rental status = %s, want ACTIVE", c.Status)
	}
	return c
}

func TestRental_SecurityDepositGatesPaperwork(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	c, err := r.Create(f.ctx, f.agent, f.rentalInput(15_000_000, 1_500_000, 30_000_000))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ContractNumber != "REN-2026-0001" || !c.EndDate.Equal(f.now.AddDate(0, 12, 0)) {
		t.Fatalf("unexpected rental %s ending %s", c.ContractNumber, c.EndDate)
	}
	if _, err := r.CreateSecurityDepositPayment(f.ctx, f.agent, c.ID); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("security deposit on DRAFT: expected BadRequest, got %v", err)
	}
	r.Approve(f.ctx, f.agent, c.ID)

	if _, err := r.MarkPaperworkComplete(f.ctx, f.agent, c.ID); !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("paperwork without security deposit: expected BadRequest, got %v", err)
	}
	pay, err := r.CreateSecurityDepositPayment(f.ctx, f.agent, c.ID)
	if err != nil {
		t.Fatalf("CreateSecurityDepositPayment: %v", err)
	}
	if _, err := r.CreateSecurityDepositPayment(f.ctx, f.agent, c.ID); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("duplicate security deposit: expected BadRequest, got %v", err)
	}
	f.settle(pay.ID)
	if c, _ = r.Get(f.ctx, f.agent, c.ID); c.SecurityDepositStatus != models.SecurityDepositHeld {
		t.Fatalf("security deposit = %s, want HELD", c.SecurityDepositStatus)
	}

	c, err = r.MarkPaperworkComplete(f.ctx, f.agent, c.ID)
	if err != nil {
		t.Fatalf("MarkPaperworkComplete: %v", err)
	}
	if c.Status != models.ContractStatusPendingPayment {
		t.Fatalf("status = %s", c.Status)
	}
	first := f.onlyPayment(c, models.PaymentTypeMonthly)
	if first.Installment() != 1 || !first.Amount.Equal(amount(15_000_000)) {
		t.Fatalf("unexpected first installment %+v", first)
	}
}

func TestRental_NoSecurityDepositRequested(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	c, _ := r.Create(f.ctx, f.agent, f.rentalInput(10_000_000, 1_000_000, 0))
	r.Approve(f.ctx, f.agent, c.ID)
	if _, err := r.CreateSecurityDepositPayment(f.ctx, f.agent, c.ID); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("zero security deposit: expected BadRequest, got %v", err)
	}
	if _, err := r.MarkPaperworkComplete(f.ctx, f.agent, c.ID); err != nil {
		t.Errorf("paperwork without required deposit: %v", err)
	}
}

func TestRental_FirstMonthActivatesAndPaysOwner(t *testing.T) {
	f := newFixture(t)
	dep := f.activeDeposit(f.depositInput(models.MainContractRental, 15_000_000))
	in := f.rentalInput(15_000_000, 1_500_000, 30_000_000)
	in.DepositContractID = &dep.ID
	c := f.activeRental(in)

	rent := f.payouts(models.PayoutMonthlyRent)
	if len(rent) != 1 || !rent[0].Amount.Equal(amount(13_500_000)) || rent[0].RecipientID != f.owner.UserID {
		t.Fatalf("unexpected owner share %+v", rent)
	}
	var tx []models.FinancialTransaction
	f.db.Where("contract_kind = ? AND contract_id = ?", models.ContractKindRental, c.ID).Find(&tx)
	if len(tx) != 1 || !tx[0].Commission.Equal(amount(1_500_000)) {
		t.Fatalf("expected one commission entry, got %+v", tx)
	}
	if dep, _ = f.svc.Deposits.Get(f.ctx, f.admin, dep.ID); dep.Status != models.ContractStatusCompleted {
		t.Errorf("linked deposit = %s, want COMPLETED", dep.Status)
	}
}

func TestRental_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Rentals.Create(f.ctx, f.agent, f.rentalInput(10_000_000, 10_000_000, 0))
	if !apperr.Is(err, apperr.KindBadRequest) || err.Error() != "Commission amount must be less than monthly rent" {
		t.Errorf("commission == rent: got %v", err)
	}
	in := f.rentalInput(10_000_000, 1, 0)
	in.MonthCount = 0
	if _, err := f.svc.Rentals.Create(f.ctx, f.agent, in); apperr.FieldsOf(err)["month_count"] != "must_be_positive" {
		t.Errorf("month_count: got %v", err)
	}

	dep := f.activeDeposit(f.depositInput(models.MainContractRental, 12_000_000))
	in = f.rentalInput(10_000_000, 1, 0)
	in.DepositContractID = &dep.ID
	if _, err := f.svc.Rentals.Create(f.ctx, f.agent, in); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("rent differing from agreed price: expected BadRequest, got %v", err)
	}
}

func TestRental_MonthlyCycleAndLatePenalty(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	c := f.activeRental(f.rentalInput(10_000_000, 1_000_000, 0))

	second, err := r.CreateMonthlyRentPayment(f.ctx, f.agent, c.ID)
	if err != nil {
		t.Fatalf("CreateMonthlyRentPayment: %v", err)
	}
	if second.Installment() != 2 || !second.DueDate.Equal(f.now.AddDate(0, 1, 0)) {
		t.Fatalf("unexpected second installment %d due %s", second.Installment(), second.DueDate)
	}

	if _, err := r.AssessLatePayments(f.ctx, f.agent, f.now); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("agent assessing: expected Forbidden, got %v", err)
	}
	late := f.now.AddDate(0, 1, 3)
	n, err := r.AssessLatePayments(f.ctx, f.admin, late)
	if err != nil || n != 1 {
		t.Fatalf("AssessLatePayments = %d, %v", n, err)
	}
	if n, _ := r.AssessLatePayments(f.ctx, f.admin, late); n != 0 {
		t.Errorf("installment assessed twice")
	}
	c, _ = r.Get(f.ctx, f.admin, c.ID)
	if c.UnpaidMonthsCount != 1 || !c.AccumulatedUnpaidPenalty.Equal(amount(500_000)) {
		t.Fatalf("unpaid=%d penalty=%s", c.UnpaidMonthsCount, c.AccumulatedUnpaidPenalty)
	}

	f.now = late
	third, err := r.CreateMonthlyRentPayment(f.ctx, f.agent, c.ID)
	if err != nil {
		t.Fatalf("third installment: %v", err)
	}
	if !third.Amount.Equal(amount(10_500_000)) {
		t.Errorf("third installment = %s, want rent plus penalty", third.Amount)
	}

	f.settle(second.ID)
	c, _ = r.Get(f.ctx, f.admin, c.ID)
	if c.UnpaidMonthsCount != 0 || !c.AccumulatedUnpaidPenalty.IsZero() {
		t.Errorf("unpaid=%d penalty=%s after paying the late month", c.UnpaidMonthsCount, c.AccumulatedUnpaidPenalty)
	}
	if rent := f.payouts(models.PayoutMonthlyRent); len(rent) != 2 {
		t.Fatalf("expected two monthly payouts, got %d", len(rent))
	}

	// A redelivered confirmation does not pay twice.
	if _, err := r.OnMonthlyRentPaymentCompleted(f.ctx, c.ID, second.ID); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if rent := f.payouts(models.PayoutMonthlyRent); len(rent) != 2 || len(f.gw.Payouts()) != 2 {
		t.Errorf("replayed confirmation paid again")
	}
}

func TestRental_InstallmentsStopAtTerm(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	in := f.rentalInput(10_000_000, 1_000_000, 0)
	in.MonthCount = 2
	c := f.activeRental(in)
	if _, err := r.CreateMonthlyRentPayment(f.ctx, f.agent, c.ID); err != nil {
		t.Fatalf("second installment: %v", err)
	}
	if _, err := r.CreateMonthlyRentPayment(f.ctx, f.agent, c.ID); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("beyond term: expected BadRequest, got %v", err)
	}
}

func TestRental_CompleteThenDecideSecurityDeposit(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	c := f.activeRental(f.rentalInput(15_000_000, 1_500_000, 30_000_000))

	c, err := r.Complete(f.ctx, f.agent, c.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Status != models.ContractStatusCompleted || c.SecurityDepositStatus != models.SecurityDepositHeld {
		t.Fatalf("unexpected %s / %s", c.Status, c.SecurityDepositStatus)
	}
	for _, a := range []struct {
		name string
		n    int64
	}{
		{"customer", f.notifications(f.customer, models.NotificationSecurityDeposit)},
		{"owner", f.notifications(f.owner, models.NotificationSecurityDeposit)},
	} {
		if a.n == 0 {
			t.Errorf("%s should hear the deposit awaits a decision", a.name)
		}
	}

	if _, err := r.DecideSecurityDeposit(f.ctx, f.agent, c.ID, TransferToOwner, "damage"); !apperr.Is(err, apperr.KindForbidden) {
		t.Errorf("agent decide: expected Forbidden, got %v", err)
	}
	c, err = r.DecideSecurityDeposit(f.ctx, f.admin, c.ID, TransferToOwner, "wall damage")
	if err != nil {
		t.Fatalf("DecideSecurityDeposit: %v", err)
	}
	if c.SecurityDepositStatus != models.SecurityDepositTransferredToOwner || c.SecurityDepositDecidedAt == nil {
		t.Fatalf("unexpected decision state %s", c.SecurityDepositStatus)
	}
	transfer := f.payouts(models.PayoutSecurityDepositTransfer)
	if len(transfer) != 1 || transfer[0].RecipientID != f.owner.UserID || !transfer[0].Amount.Equal(amount(30_000_000)) {
		t.Fatalf("unexpected transfer %+v", transfer)
	}
	if _, err := r.DecideSecurityDeposit(f.ctx, f.admin, c.ID, ReturnToCustomer, "again"); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("second decision: expected BadRequest, got %v", err)
	}
	var audits int64
	f.db.Model(&models.AuditLog{}).Where("entity_id = ? AND field = ?", c.ID, "security_deposit_status").Count(&audits)
	if audits != 2 {
		t.Errorf("expected HELD and decision audited, got %d rows", audits)
	}
}

func TestRental_CancelReturnsHeldDeposit(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	c, _ := r.Create(f.ctx, f.agent, f.rentalInput(15_000_000, 1_500_000, 30_000_000))
	r.Approve(f.ctx, f.agent, c.ID)
	pay, _ := r.CreateSecurityDepositPayment(f.ctx, f.agent, c.ID)
	f.settle(pay.ID)

	c, err := r.Cancel(f.ctx, f.owner, c.ID, "owner moving in")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if c.CancelledBy != models.CancelledByOwner || c.SecurityDepositStatus != models.SecurityDepositReturnedToCustomer {
		t.Fatalf("unexpected %s / %s", c.CancelledBy, c.SecurityDepositStatus)
	}
	if ret := f.payouts(models.PayoutSecurityDepositReturn); len(ret) != 1 || ret[0].RecipientID != f.customer.UserID {
		t.Fatalf("unexpected return %+v", ret)
	}
}

func TestRental_VoidReturnsHeldDeposit(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	c := f.activeRental(f.rentalInput(15_000_000, 1_500_000, 30_000_000))
	c, err := r.Void(f.ctx, f.admin, c.ID, "fraud")
	if err != nil {
		t.Fatalf("Void: %v", err)
	}
	if c.Status != models.ContractStatusCancelled || c.CancelledBy != models.CancelledByAdmin {
		t.Fatalf("unexpected %s by %s", c.Status, c.CancelledBy)
	}
	if c.SecurityDepositStatus != models.SecurityDepositReturnedToCustomer {
		t.Fatalf("deposit = %s, want RETURNED_TO_CUSTOMER", c.SecurityDepositStatus)
	}
	ret := f.payouts(models.PayoutSecurityDepositReturn)
	if len(ret) != 1 || ret[0].RecipientID != f.customer.UserID || !ret[0].Amount.Equal(amount(30_000_000)) {
		t.Fatalf("unexpected return %+v", ret)
	}
	if _, err := r.DecideSecurityDeposit(f.ctx, f.admin, c.ID, TransferToOwner, "x"); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("decide after void: expected BadRequest, got %v", err)
	}
	if _, err := r.Complete(f.ctx, f.admin, c.ID); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("complete after void: expected BadRequest, got %v", err)
	}
}

func TestRental_DepositReturnDeferredWithoutBankDetails(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	c := f.activeRental(f.rentalInput(15_000_000, 1_500_000, 30_000_000))
	f.dropBankDetails(f.customer)

	c, err := r.Void(f.ctx, f.admin, c.ID, "fraud")
	if err != nil {
		t.Fatalf("Void must succeed with a deferred return: %v", err)
	}
	if c.SecurityDepositStatus != models.SecurityDepositReturnedToCustomer {
		t.Fatalf("deposit = %s", c.SecurityDepositStatus)
	}
	ret := f.payouts(models.PayoutSecurityDepositReturn)
	if len(ret) != 1 || ret[0].Status != models.PayoutStatusDeferred {
		t.Fatalf("expected one deferred return, got %+v", ret)
	}
	var onHold int64
	f.db.Model(&models.Notification{}).
		Where("user_id = ? AND type = ? AND message LIKE ?", f.customer.UserID, models.NotificationSecurityDeposit, "%on hold%").
		Count(&onHold)
	if onHold != 1 {
		t.Errorf("customer should be told the transfer is on hold, got %d", onHold)
	}
	var audits int64
	f.db.Model(&models.AuditLog{}).
		Where("entity_id = ? AND field = ? AND note LIKE ?", c.ID, "security_deposit_status", "%payout deferred%").
		Count(&audits)
	if audits != 1 {
		t.Errorf("deposit audit should note the deferral, got %d", audits)
	}
}

func TestRental_InstallmentSettledAfterCompletionIsPaidOut(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	c := f.activeRental(f.rentalInput(10_000_000, 1_000_000, 0))
	second, err := r.CreateMonthlyRentPayment(f.ctx, f.agent, c.ID)
	if err != nil {
		t.Fatalf("CreateMonthlyRentPayment: %v", err)
	}
	if _, err := r.Complete(f.ctx, f.agent, c.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	f.settle(second.ID)
	rent := f.payouts(models.PayoutMonthlyRent)
	if len(rent) != 2 || rent[1].PaymentID == nil || *rent[1].PaymentID != second.ID {
		t.Fatalf("expected the second installment paid out, got %+v", rent)
	}
	if c, _ = r.Get(f.ctx, f.admin, c.ID); c.Status != models.ContractStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", c.Status)
	}
	if _, err := r.CreateMonthlyRentPayment(f.ctx, f.agent, c.ID); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("new installment after completion: expected BadRequest, got %v", err)
	}
}

func TestRental_DecideRequiresActiveOrCompleted(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	c, _ := r.Create(f.ctx, f.agent, f.rentalInput(15_000_000, 1_500_000, 30_000_000))
	r.Approve(f.ctx, f.agent, c.ID)
	pay, _ := r.CreateSecurityDepositPayment(f.ctx, f.agent, c.ID)
	f.settle(pay.ID)

	if c, _ = r.Get(f.ctx, f.admin, c.ID); c.Status != models.ContractStatusWaitingOfficial || c.SecurityDepositStatus != models.SecurityDepositHeld {
		t.Fatalf("unexpected %s / %s", c.Status, c.SecurityDepositStatus)
	}
	if _, err := r.DecideSecurityDeposit(f.ctx, f.admin, c.ID, ReturnToCustomer, "x"); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("WAITING_OFFICIAL: expected BadRequest, got %v", err)
	}
	if _, err := r.MarkPaperworkComplete(f.ctx, f.agent, c.ID); err != nil {
		t.Fatalf("MarkPaperworkComplete: %v", err)
	}
	if _, err := r.DecideSecurityDeposit(f.ctx, f.admin, c.ID, TransferToOwner, "x"); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("PENDING_PAYMENT: expected BadRequest, got %v", err)
	}
	if n := len(f.payouts(models.PayoutSecurityDepositReturn)) + len(f.payouts(models.PayoutSecurityDepositTransfer)); n != 0 {
		t.Errorf("refused decisions must not move money, got %d payouts", n)
	}
}

func TestRental_OneLiveContractPerProperty(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	in := f.rentalInput(10_000_000, 1_000_000, 0)
	first, _ := r.Create(f.ctx, f.agent, in)
	second, err := r.Create(f.ctx, f.agent, in)
	if err != nil {
		t.Fatalf("drafts do not conflict: %v", err)
	}
	if _, err := r.Approve(f.ctx, f.agent, first.ID); err != nil {
		t.Fatalf("Approve first: %v", err)
	}
	if _, err := r.Approve(f.ctx, f.agent, second.ID); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("approving a second live rental: expected BadRequest, got %v", err)
	}
	if _, err := r.Create(f.ctx, f.agent, in); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("creating beside a live rental: expected BadRequest, got %v", err)
	}
}

func TestRental_UpdateValidation(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	c, _ := r.Create(f.ctx, f.agent, f.rentalInput(10_000_000, 1_000_000, 0))

	_, err := r.Update(f.ctx, f.agent, c.ID, f.rentalInput(10_000_000, 12_000_000, 0))
	if !apperr.Is(err, apperr.KindBadRequest) || err.Error() != "Commission amount must be less than monthly rent" {
		t.Errorf("commission above rent: got %v", err)
	}

	dep := f.activeDeposit(f.depositInput(models.MainContractRental, 12_000_000))
	in := f.rentalInput(12_000_000, 1_000_000, 0)
	in.DepositContractID = &dep.ID
	if _, err := r.Update(f.ctx, f.agent, c.ID, in); err != nil {
		t.Fatalf("link deposit: %v", err)
	}
	in.MonthlyRentAmount = amount(11_000_000)
	if _, err := r.Update(f.ctx, f.agent, c.ID, in); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("rent drifting from the agreed price: expected BadRequest, got %v", err)
	}
	if c, _ = r.Get(f.ctx, f.admin, c.ID); !c.MonthlyRentAmount.Equal(amount(12_000_000)) {
		t.Errorf("refused update changed rent to %s", c.MonthlyRentAmount)
	}
}

func TestRental_TerminalStatusRejectsMutations(t *testing.T) {
	f := newFixture(t)
	r := f.svc.Rentals
	cancelled, _ := r.Create(f.ctx, f.agent, f.rentalInput(10_000_000, 1_000_000, 0))
	r.Approve(f.ctx, f.agent, cancelled.ID)
	if _, err := r.Cancel(f.ctx, f.customer, cancelled.ID, "x"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	p := f.newProperty(f.owner)
	in := f.rentalInput(10_000_000, 1_000_000, 0)
	in.PropertyID = p.ID
	completed := f.activeRental(in)
	if _, err := r.Complete(f.ctx, f.agent, completed.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	for status, id := range map[string]uint{"CANCELLED": cancelled.ID, "COMPLETED": completed.ID} {
		ops := map[string]func() error{
			"approve":   func() error { _, err := r.Approve(f.ctx, f.admin, id); return err },
			"paperwork": func() error { _, err := r.MarkPaperworkComplete(f.ctx, f.admin, id); return err },
			"security":  func() error { _, err := r.CreateSecurityDepositPayment(f.ctx, f.admin, id); return err },
			"monthly":   func() error { _, err := r.CreateMonthlyRentPayment(f.ctx, f.admin, id); return err },
			"complete":  func() error { _, err := r.Complete(f.ctx, f.admin, id); return err },
			"cancel":    func() error { _, err := r.Cancel(f.ctx, f.customer, id, "x"); return err },
			"void":      func() error { _, err := r.Void(f.ctx, f.admin, id, "x"); return err },
			"update":    func() error { _, err := r.Update(f.ctx, f.admin, id, f.rentalInput(10_000_000, 1, 0)); return err },
			"delete":    func() error { return r.Delete(f.ctx, f.admin, id) },
		}
		for name, op := range ops {
			if err := op(); !apperr.Is(err, apperr.KindBadRequest) {
				t.Errorf("%s on %s: expected BadRequest, got %v", name, status, err)
			}
		}
	}
}
