package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ContractStatus is shared by every contract kind.
type ContractStatus string

const (
	ContractStatusDraft           ContractStatus = "DRAFT"
	ContractStatusWaitingOfficial ContractStatus = "WAITING_OFFICIAL"
	ContractStatusPendingPayment  ContractStatus = "PENDING_PAYMENT"
	ContractStatusActive          ContractStatus = "ACTIVE"
	ContractStatusCompleted       ContractStatus = "COMPLETED"
	ContractStatusCancelled       ContractStatus = "CANCELLED"
)

// LiveStatuses are the statuses that occupy a property for a contract kind.
var LiveStatuses = []ContractStatus{
	ContractStatusWaitingOfficial,
	ContractStatusPendingPayment,
	ContractStatusActive,
}

// IsTerminal returns true for COMPLETED and CANCELLED.
func (s ContractStatus) IsTerminal() bool {
	return s == ContractStatusCompleted || s == ContractStatusCancelled
}

// ContractKind names a contract table and its number prefix.
type ContractKind string

const (
	ContractKindDeposit  ContractKind = "DEPOSIT"
	ContractKindPurchase ContractKind = "PURCHASE"
	ContractKindRental   ContractKind = "RENTAL"
)

// Resource returns the authorization resource type for the kind.
func (k ContractKind) Resource() string {
	return strings.ToLower(string(k)) + "_contract"
}

func (k ContractKind) prefix() string {
	switch k {
	case ContractKindDeposit:
		return "DEP"
	case ContractKindPurchase:
		return "PUR"
	default:
		return "REN"
	}
}

// CancelledBy records which party cancelled a contract.
type CancelledBy string

const (
	CancelledByCustomer CancelledBy = "CUSTOMER"
	CancelledByOwner    CancelledBy = "OWNER"
	CancelledByAgent    CancelledBy = "AGENT"
	CancelledByAdmin    CancelledBy = "ADMIN"
)

// ContractBase holds the attributes common to all contract kinds.
// It is embedded in every contract model.
type ContractBase struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ContractNumber string         `gorm:"size:30;uniqueIndex;not null" json:"contract_number"`
	Status         ContractStatus `gorm:"size:20;index;not null;default:'DRAFT'" json:"status"`

	PropertyID uint  `gorm:"index;not null" json:"property_id"`
	CustomerID uint  `gorm:"index;not null" json:"customer_id"`
	AgentID    *uint `gorm:"index" json:"agent_id,omitempty"`

	StartDate    time.Time  `gorm:"not null" json:"start_date"`
	SignedAt     *time.Time `json:"signed_at,omitempty"`
	SpecialTerms string     `gorm:"type:text" json:"special_terms,omitempty"`

	CancellationReason string      `gorm:"size:500" json:"cancellation_reason,omitempty"`
	CancelledBy        CancelledBy `gorm:"size:20" json:"cancelled_by,omitempty"`
	CancelledByUserID  *uint       `json:"cancelled_by_user_id,omitempty"`
	CancelledAt        *time.Time  `json:"cancelled_at,omitempty"`
}

// Base gives workflow code access to the shared attributes.
func (c *ContractBase) Base() *ContractBase { return c }

// CanEdit returns true if the contract can still be edited or deleted.
func (c *ContractBase) CanEdit() bool { return c.Status == ContractStatusDraft }

// IsAssignedTo reports whether userID is the contract's sales agent.
func (c *ContractBase) IsAssignedTo(userID uint) bool {
	return c.AgentID != nil && *c.AgentID == userID
}

// MarkCancelled stamps the cancellation attributes.
func (c *ContractBase) MarkCancelled(reason string, by CancelledBy, userID uint, at time.Time) {
	c.Status = ContractStatusCancelled
	c.CancellationReason = reason
	c.CancelledBy = by
	c.CancelledByUserID = &userID
	c.CancelledAt = &at
}

// Contract is implemented by *DepositContract, *PurchaseContract and *RentalContract.
type Contract interface {
	Base() *ContractBase
	Kind() ContractKind
}

// GenerateContractNumber returns the next number for a kind and year.
// Format: DEP-YYYY-NNNN, PUR-YYYY-NNNN or REN-YYYY-NNNN.
// The sequence continues from the highest number still present, so numbers stay
// unique after drafts are deleted.
func GenerateContractNumber(db *gorm.DB, model Contract, year int) (string, error) {
	prefix := fmt.Sprintf("%s-%d-", model.Kind().prefix(), year)
	var numbers []string
	err := db.Model(model).
		Where("contract_number LIKE ?", prefix+"%").
		Order("contract_number DESC").
		Limit(1).
		Pluck("contract_number", &numbers).Error
	if err != nil {
		return "", err
	}
	next := 1
	if len(numbers) > 0 {
		last := numbers[0]
		n, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
		if err != nil {
			return "", fmt.Errorf("malformed contract number %q: %w", last, err)
		}
		next = n + 1
	}
	return fmt.Sprintf("%s%04d", prefix, next), nil
}
