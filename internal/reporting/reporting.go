// Package reporting records commission earned per settled contract for monthly aggregation.
package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Entry is one commission record.
type Entry struct {
	PropertyID   uint
	ContractKind models.ContractKind
	ContractID   uint
	Commission   decimal.Decimal
	Month        int
	Year         int
}

// EntryAt builds an entry dated at t.
func EntryAt(t time.Time, kind models.ContractKind, contractID, propertyID uint, commission decimal.Decimal) Entry {
	return Entry{
		PropertyID:   propertyID,
		ContractKind: kind,
		ContractID:   contractID,
		Commission:   commission,
		Month:        int(t.Month()),
		Year:         t.Year(),
	}
}

// Sink receives commission records. It has no feedback into contract state.
type Sink interface {
	RecordTransaction(ctx context.Context, e Entry) error
}

// Store persists entries to the financial_transactions table.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) RecordTransaction(ctx context.Context, e Entry) error {
	tx := models.FinancialTransaction{
		PropertyID:   e.PropertyID,
		ContractKind: e.ContractKind,
		ContractID:   e.ContractID,
		Commission:   e.Commission,
		Month:        e.Month,
		Year:         e.Year,
	}
	if err := s.db.WithContext(ctx).Create(&tx).Error; err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

// MonthlySummary aggregates the commission of one month.
type MonthlySummary struct {
	Year         int
	Month        int
	Transactions int
	Commission   decimal.Decimal
	ByKind       map[models.ContractKind]decimal.Decimal
}

// MonthlyCommission sums the recorded commission of a month, in total and per contract kind.
func (s *Store) MonthlyCommission(ctx context.Context, year, month int) (MonthlySummary, error) {
	var rows []models.FinancialTransaction
	err := s.db.WithContext(ctx).
		Where("year = ? AND month = ?", year, month).
		Find(&rows).Error
	if err != nil {
		return MonthlySummary{}, fmt.Errorf("monthly commission: %w", err)
	}
	sum := MonthlySummary{
		Year:       year,
		Month:      month,
		Commission: decimal.Zero,
		ByKind:     make(map[models.ContractKind]decimal.Decimal),
	}
	for _, r := range rows {
		sum.Transactions++
		sum.Commission = sum.Commission.Add(r.Commission)
		sum.ByKind[r.ContractKind] = sum.ByKind[r.ContractKind].Add(r.Commission)
	}
	return sum, nil
}
