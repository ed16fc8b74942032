package db

import (
	"fmt"
	"log"
	"time"

	"github.com/diewo77/go-brokerage/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the PostgreSQL database, retrying with exponential backoff
// while the server starts up.
func Connect(dsn string, attempts int, verbose bool) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Warn)
	if verbose {
		gormLogger = logger.Default.LogMode(logger.Info)
	}
	if attempts <= 0 {
		attempts = 1
	}

	var db *gorm.DB
	var err error
	backoff := time.Second
	for i := 0; i < attempts; i++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
		if err == nil {
			break
		}
		log.Printf("database connection attempt %d/%d failed: %v", i+1, attempts, err)
		if i < attempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Migrate runs AutoMigrate for all models.
// Call this at application startup or as part of a migration step.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SeedAdmin makes sure an ADMIN user exists for email.
func SeedAdmin(db *gorm.DB, email, name string) (*models.User, error) {
	user := models.User{Email: email}
	err := db.Where("email = ?", email).
		Attrs(models.User{Name: name, Role: models.UserRoleAdmin}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, fmt.Errorf("seed admin: %w", err)
	}
	if user.Role != models.UserRoleAdmin {
		if err := db.Model(&user).Update("role", models.UserRoleAdmin).Error; err != nil {
			return nil, fmt.Errorf("promote admin: %w", err)
		}
		user.Role = models.UserRoleAdmin
	}
	return &user, nil
}
