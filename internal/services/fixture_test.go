package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/diewo77/go-brokerage/auth"
	"github.com/diewo77/go-brokerage/internal/gateway"
	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fixture struct {
	t   *testing.T
	ctx context.Context
	db  *gorm.DB
	gw  *gateway.Sandbox
	svc *Services
	now time.Time

	admin, agent, otherAgent, customer, owner, stranger auth.Actor
	property                                            models.Property
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	f := &fixture{
		t:   t,
		ctx: context.Background(),
		db:  db,
		gw:  gateway.NewSandbox(),
		now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.admin = f.user("admin@x", models.UserRoleAdmin, true)
	f.agent = f.user("agent@x", models.UserRoleAgent, true)
	f.otherAgent = f.user("agent2@x", models.UserRoleAgent, true)
	f.customer = f.user("customer@x", models.UserRoleCustomer, true)
	f.owner = f.user("owner@x", models.UserRoleCustomer, true)
	f.stranger = f.user("stranger@x", models.UserRoleCustomer, true)
	f.property = models.Property{OwnerID: f.owner.UserID, Title: "Flat 12B", Address: "12 Nguyen Hue"}
	if err := db.Create(&f.property).Error; err != nil {
		t.Fatalf("create property: %v", err)
	}
	f.svc = New(Deps{
		DB:      db,
		Gateway: f.gw,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) user(email string, role models.UserRole, bank bool) auth.Actor {
	f.t.Helper()
	u := models.User{Email: email, Name: email, Role: role}
	if bank {
		u.BankAccountNumber = "0123456789"
		u.BankAccountHolder = strings.ToUpper(email)
		u.BankCode = "VCB"
	}
	if err := f.db.Create(&u).Error; err != nil {
		f.t.Fatalf("create user: %v", err)
	}
	return auth.Actor{UserID: u.ID, Role: auth.Role(role)}
}

func (f *fixture) dropBankDetails(a auth.Actor) {
	f.t.Helper()
	err := f.db.Model(&models.User{}).Where("id = ?", a.UserID).
		Updates(map[string]any{"bank_account_number": "", "bank_code": ""}).Error
	if err != nil {
		f.t.Fatalf("drop bank details: %v", err)
	}
}

func (f *fixture) newProperty(owner auth.Actor) models.Property {
	f.t.Helper()
	p := models.Property{OwnerID: owner.UserID, Title: "House"}
	if err := f.db.Create(&p).Error; err != nil {
		f.t.Fatalf("create property: %v", err)
	}
	return p
}

// settle confirms a payment as the gateway webhook would.
func (f *fixture) settle(paymentID uint) {
	f.t.Helper()
	if _, err := f.svc.Settlements.Settle(f.ctx, paymentID, models.PaymentStatusSuccess); err != nil {
		f.t.Fatalf("settle payment %d: %v", paymentID, err)
	}
}

func (f *fixture) payments(c models.Contract, typ models.PaymentType) []models.Payment {
	f.t.Helper()
	var ps []models.Payment
	err := f.db.Where("contract_kind = ? AND contract_id = ? AND type = ?", c.Kind(), c.Base().ID, typ).
		Order("id").Find(&ps).Error
	if err != nil {
		f.t.Fatalf("load payments: %v", err)
	}
	return ps
}

func (f *fixture) onlyPayment(c models.Contract, typ models.PaymentType) models.Payment {
	f.t.Helper()
	ps := f.payments(c, typ)
	if len(ps) != 1 {
		f.t.Fatalf("expected one %s payment, got %d", typ, len(ps))
	}
	return ps[0]
}

func (f *fixture) payouts(purpose models.PayoutPurpose) []models.Payout {
	f.t.Helper()
	var rows []models.Payout
	if err := f.db.Where("purpose = ?", purpose).Order("id").Find(&rows).Error; err != nil {
		f.t.Fatalf("load payouts: %v", err)
	}
	return rows
}

func (f *fixture) notifications(a auth.Actor, typ models.NotificationType) int64 {
	f.t.Helper()
	var n int64
	if err := f.db.Model(&models.Notification{}).Where("user_id = ? AND type = ?", a.UserID, typ).Count(&n).Error; err != nil {
		f.t.Fatalf("count notifications: %v", err)
	}
	return n
}

func (f *fixture) depositInput(main models.MainContractType, price int64) DepositInput {
	return DepositInput{
		PropertyID:       f.property.ID,
		CustomerID:       f.customer.UserID,
		MainContractType: main,
		DepositAmount:    decimal.NewFromInt(50_000_000),
		AgreedPrice:      decimal.NewFromInt(price),
		StartDate:        f.now,
	}
}

// activeDeposit walks a deposit through approval, paperwork and payment.
func (f *fixture) activeDeposit(in DepositInput) *models.DepositContract {
	f.t.Helper()
	d := f.svc.Deposits
	c, err := d.Create(f.ctx, f.agent, in)
	if err != nil {
		f.t.Fatalf("create deposit: %v", err)
	}
	if _, err := d.Approve(f.ctx, f.agent, c.ID); err != nil {
		f.t.Fatalf("approve deposit: %v", err)
	}
	if _, err := d.MarkPaperworkComplete(f.ctx, f.agent, c.ID); err != nil {
		f.t.Fatalf("paperwork: %v", err)
	}
	f.settle(f.onlyPayment(c, models.PaymentTypeDeposit).ID)
	c, err = d.Get(f.ctx, f.agent, c.ID)
	if err != nil {
		f.t.Fatalf("get deposit: %v", err)
	}
	if c.Status != models.ContractStatusActive {
		f.t.Fatalf("deposit status = %s, want ACTIVE", c.Status)
	}
	return c
}

func amount(n int64) decimal.Decimal { return decimal.NewFromInt(n) }
