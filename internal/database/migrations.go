package database

import (
	"traefiklens/internal/database/models"

	"gorm.io/gorm"
)

// RunMigrations creates or updates the schema.
func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Agent{},
		&models.SelectedAgent{},
		&models.FilterSettingsRecord{},
		&models.LogSource{},
	)
}
