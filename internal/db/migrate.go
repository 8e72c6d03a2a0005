package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
)

// AllModels returns every GORM model the service persists.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Project{},
		&models.Invitation{},
		&models.Contract{},
		&models.Task{},
		&models.ProgressUpdate{},
		&models.ProjectComment{},
		&models.Invoice{},
		&models.Transaction{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
