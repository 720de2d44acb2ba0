package db

import (
	"fmt"

	"github.com/fixline/fixline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Request{},
		&models.RequestHistory{},
		&models.Comment{},
		&models.File{},
	}
}

// AutoMigrate creates or updates all Fixline tables.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedAdmins upserts User rows with the admin role for the configured
// platform IDs. Existing users are promoted, never demoted.
func SeedAdmins(gdb *gorm.DB, platformIDs []string) error {
	for _, pid := range platformIDs {
		user := models.User{
			PlatformID: pid,
			Role:       models.RoleAdmin,
			IsActive:   true,
		}
		result := gdb.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"role", "is_active"}),
		}).Create(&user)
		if result.Error != nil {
			return fmt.Errorf("db: seed admin %q: %w", pid, result.Error)
		}
	}
	return nil
}
