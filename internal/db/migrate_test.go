package db

import (
	"fmt"
	"testing"

	"github.com/diewo77/go-brokerage/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

func TestMigrateCreatesAllTables(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	for _, m := range models.All() {
		if !db.Migrator().HasTable(m) {
			t.Errorf("missing table for %T", m)
		}
	}
}

func TestSeedAdminIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db.Create(&models.User{Email: "ops@example.com", Role: models.UserRoleCustomer}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	u, err := SeedAdmin(db, "ops@example.com", "Ops")
	if err != nil {
		t.Fatalf("SeedAdmin: %v", err)
	}
	if u.Role != models.UserRoleAdmin {
		t.Fatalf("expected promotion to admin, got %s", u.Role)
	}
	if _, err := SeedAdmin(db, "ops@example.com", "Ops"); err != nil {
		t.Fatalf("second SeedAdmin: %v", err)
	}
	var count int64
	db.Model(&models.User{}).Where("email = ?", "ops@example.com").Count(&count)
	if count != 1 {
		t.Fatalf("expected one user, got %d", count)
	}
}
