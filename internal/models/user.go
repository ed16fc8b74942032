package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// UserRole mirrors auth.Role as stored in the users table.
type UserRole string

const (
	UserRoleAdmin    UserRole = "ADMIN"
	UserRoleAgent    UserRole = "AGENT"
	UserRoleCustomer UserRole = "CUSTOMER"
)

// User is any party of a contract: customer, property owner, sales agent or admin.
// Property owners are customers that own at least one property.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	Email     string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Name      string         `gorm:"size:255" json:"name,omitempty"`
	Phone     string         `gorm:"size:30" json:"phone,omitempty"`
	Role      UserRole       `gorm:"size:20;index;not null;default:'CUSTOMER'" json:"role"`

	// Payout destination. All three are required before money can be sent.
	BankAccountNumber string `gorm:"size:50" json:"-"`
	BankAccountHolder string `gorm:"size:255" json:"-"`
	BankCode          string `gorm:"size:20" json:"-"`
}

// HasBankDetails reports whether a payout can be addressed to this user.
func (u *User) HasBankDetails() bool {
	return strings.TrimSpace(u.BankAccountNumber) != "" &&
		strings.TrimSpace(u.BankAccountHolder) != "" &&
		strings.TrimSpace(u.BankCode) != ""
}

// MissingBankFields lists the bank fields that are still empty.
func (u *User) MissingBankFields() []string {
	var missing []string
	if strings.TrimSpace(u.BankAccountNumber) == "" {
		missing = append(missing, "account_number")
	}
	if strings.TrimSpace(u.BankAccountHolder) == "" {
		missing = append(missing, "account_holder")
	}
	if strings.TrimSpace(u.BankCode) == "" {
		missing = append(missing, "bank_code")
	}
	return missing
}

// Property is the catalog record a contract refers to. Only the fields the
// contract engine reads are mapped here.
type Property struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	OwnerID   uint      `gorm:"index;not null" json:"owner_id"`
	Owner     *User     `gorm:"foreignKey:OwnerID" json:"-"`
	Title     string    `gorm:"size:255" json:"title"`
	Address   string    `gorm:"size:500" json:"address,omitempty"`
}
