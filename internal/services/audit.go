package services

import (
	"fmt"

	"github.com/diewo77/go-brokerage/internal/models"
	"gorm.io/gorm"
)

// audit appends an audit row for a contract inside tx. userID 0 is the system.
func audit(tx *gorm.DB, userID uint, kind models.ContractKind, contractID uint, action, field, oldValue, newValue, note string) error {
	row := models.AuditLog{
		UserID:     userID,
		EntityType: kind.Resource(),
		EntityID:   contractID,
		Action:     action,
		Field:      field,
		OldValue:   oldValue,
		NewValue:   newValue,
		Note:       note,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}
	return nil
}
