// Package services implements the contract workflows: deposit, purchase and
// rental contracts, the payment ledger, the payout trigger and the routing of
// settled payments back into the workflows.
package services

import (
	"log/slog"
	"time"

	"github.com/diewo77/go-brokerage/internal/gateway"
	"github.com/diewo77/go-brokerage/internal/lock"
	"github.com/diewo77/go-brokerage/internal/notify"
	"github.com/diewo77/go-brokerage/internal/policy"
	"github.com/diewo77/go-brokerage/internal/reporting"
	"gorm.io/gorm"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	DB       *gorm.DB
	Gateway  gateway.Client
	Notifier notify.Dispatcher
	Reports  reporting.Sink
	Locker   lock.Locker
	Gate     *policy.AuthGate
	Logger   *slog.Logger

	Currency string
	// DueDays is how long a customer has to pay a new payment.
	DueDays int
	Now     func() time.Time
}

// Services bundles the contract workflows over one set of dependencies.
type Services struct {
	Ledger      *Ledger
	Payouts     *Payouts
	Deposits    *DepositService
	Purchases   *PurchaseService
	Rentals     *RentalService
	Settlements *Settlements
}

// New wires the services. Zero-valued dependencies get development defaults:
// an in-process locker, claim-based authorization, the database-backed
// notification and reporting stores and the sandbox gateway.
func New(d Deps) *Services {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocal()
	}
	if d.Gate == nil {
		d.Gate = policy.NewAuthGate(policy.ClaimsResolver(), time.Minute)
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewStore(d.DB)
	}
	if d.Reports == nil {
		d.Reports = reporting.NewStore(d.DB)
	}
	if d.Gateway == nil {
		d.Logger.Warn("no payment gateway configured, using sandbox")
		d.Gateway = gateway.NewSandbox()
	}
	if d.Currency == "" {
		d.Currency = "VND"
	}
	if d.DueDays <= 0 {
		d.DueDays = 7
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	deps := &d
	ledger := &Ledger{deps: deps}
	payouts := &Payouts{deps: deps}
	s := &Services{Ledger: ledger, Payouts: payouts}
	s.Deposits = newDepositService(deps, ledger, payouts)
	s.Purchases = newPurchaseService(deps, ledger, payouts, s.Deposits)
	s.Rentals = newRentalService(deps, ledger, payouts, s.Deposits)
	s.Settlements = &Settlements{
		ledger:    ledger,
		deposits:  s.Deposits,
		purchases: s.Purchases,
		rentals:   s.Rentals,
	}
	return s
}
