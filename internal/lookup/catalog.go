// Package lookup resolves property and user references for the contract workflows.
package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/diewo77/go-brokerage/internal/models"
	"gorm.io/gorm"
)

// Catalog resolves references to their current records, failing with an
// apperr NotFound when a record is absent.
type Catalog interface {
	FindProperty(ctx context.Context, id uint) (*models.Property, error)
	FindCustomer(ctx context.Context, id uint) (*models.User, error)
	FindAgent(ctx context.Context, id uint) (*models.User, error)
	FindUser(ctx context.Context, id uint) (*models.User, error)
	ListAdmins(ctx context.Context) ([]models.User, error)
}

// GormCatalog reads the catalog tables. Bind it to a transaction with
// NewGormCatalog(tx) to read inside that transaction.
type GormCatalog struct {
	db *gorm.DB
}

func NewGormCatalog(db *gorm.DB) *GormCatalog {
	return &GormCatalog{db: db}
}

func (c *GormCatalog) FindProperty(ctx context.Context, id uint) (*models.Property, error) {
	var p models.Property
	if err := c.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFound(err, "Property")
	}
	return &p, nil
}

func (c *GormCatalog) FindUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := c.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err, "User")
	}
	return &u, nil
}

// FindCustomer resolves any user that can be a contract's customer.
// Admins and agents cannot.
func (c *GormCatalog) FindCustomer(ctx context.Context, id uint) (*models.User, error) {
	u, err := c.FindUser(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("Customer not found")
		}
		return nil, err
	}
	if u.Role != models.UserRoleCustomer {
		return nil, apperr.NotFound("Customer not found")
	}
	return u, nil
}

func (c *GormCatalog) FindAgent(ctx context.Context, id uint) (*models.User, error) {
	u, err := c.FindUser(ctx, id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, apperr.NotFound("Agent not found")
		}
		return nil, err
	}
	if u.Role != models.UserRoleAgent {
		return nil, apperr.NotFound("Agent not found")
	}
	return u, nil
}

func (c *GormCatalog) ListAdmins(ctx context.Context) ([]models.User, error) {
	var admins []models.User
	err := c.db.WithContext(ctx).Where("role = ?", models.UserRoleAdmin).Order("id").Find(&admins).Error
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(what + " not found")
	}
	return fmt.Errorf("load %s: %w", what, err)
}
