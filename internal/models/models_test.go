package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestUser_HasBankDetails(t *testing.T) {
	tests := []struct {
		name    string
		user    User
		want    bool
		missing int
	}{
		{"complete", User{BankAccountNumber: "0123", BankAccountHolder: "NGUYEN VAN A", BankCode: "VCB"}, true, 0},
		{"no code", User{BankAccountNumber: "0123", BankAccountHolder: "NGUYEN VAN A"}, false, 1},
		{"blank", User{BankAccountNumber: " "}, false, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.HasBankDetails(); got != tt.want {
				t.Errorf("HasBankDetails() = %v, want %v", got, tt.want)
			}
			if got := len(tt.user.MissingBankFields()); got != tt.missing {
				t.Errorf("MissingBankFields() = %d fields, want %d", got, tt.missing)
			}
		})
	}
}

func TestDepositContract_Penalty(t *testing.T) {
	d := &DepositContract{DepositAmount: decimal.NewFromInt(50_000_000)}
	if !d.Penalty().Equal(decimal.NewFromInt(50_000_000)) {
		t.Errorf("default penalty = %s, want deposit amount", d.Penalty())
	}
	d.CancellationPenalty = decimal.NewNullDecimal(decimal.NewFromInt(10_000_000))
	if !d.Penalty().Equal(decimal.NewFromInt(10_000_000)) {
		t.Errorf("override penalty = %s", d.Penalty())
	}
}

func TestDepositContract_IsExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	d := &DepositContract{}
	if d.IsExpired(now) {
		t.Error("no end date never expires")
	}
	end := now.AddDate(0, 0, -1)
	d.EndDate = &end
	if !d.IsExpired(now) {
		t.Error("past end date should be expired")
	}
}

func TestRentalContract_Amounts(t *testing.T) {
	r := &RentalContract{
		MonthlyRentAmount:      decimal.NewFromInt(10_000_000),
		CommissionAmount:       decimal.NewFromInt(1_000_000),
		LatePaymentPenaltyRate: decimal.RequireFromString("0.05"),
	}
	if !r.OwnerMonthlyShare().Equal(decimal.NewFromInt(9_000_000)) {
		t.Errorf("OwnerMonthlyShare() = %s", r.OwnerMonthlyShare())
	}
	if !r.LatePenalty().Equal(decimal.NewFromInt(500_000)) {
		t.Errorf("LatePenalty() = %s", r.LatePenalty())
	}
	if r.RequiresSecurityDeposit() {
		t.Error("zero security deposit is not required")
	}
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	if got := RentEndDate(start, 12); !got.Equal(time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("RentEndDate() = %v", got)
	}
}

func TestContractStatus_IsTerminal(t *testing.T) {
	for _, s := range []ContractStatus{ContractStatusCompleted, ContractStatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range append([]ContractStatus{ContractStatusDraft}, LiveStatuses...) {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestGenerateContractNumber(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.AutoMigrate(&DepositContract{}, &RentalContract{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	first, err := GenerateContractNumber(db, &DepositContract{}, 2026)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first != "DEP-2026-0001" {
		t.Fatalf("first number = %s", first)
	}

	for _, n := range []string{"DEP-2026-0001", "DEP-2026-0002"} {
		c := &DepositContract{ContractBase: ContractBase{ContractNumber: n, PropertyID: 1, CustomerID: 1, StartDate: time.Now()}, MainContractType: MainContractRental}
		if err := db.Create(c).Error; err != nil {
			t.Fatalf("create %s: %v", n, err)
		}
	}
	if err := db.Where("contract_number = ?", "DEP-2026-0001").Delete(&DepositContract{}).Error; err != nil {
		t.Fatalf("delete: %v", err)
	}

	next, _ := GenerateContractNumber(db, &DepositContract{}, 2026)
	if next != "DEP-2026-0003" {
		t.Errorf("next number = %s, want DEP-2026-0003", next)
	}
	rental, _ := GenerateContractNumber(db, &RentalContract{}, 2026)
	if rental != "REN-2026-0001" {
		t.Errorf("rental number = %s, want REN-2026-0001", rental)
	}
}
