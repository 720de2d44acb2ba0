package db

import (
	"testing"

	"github.com/fixline/fixline/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	return gdb
}

func TestAutoMigrate(t *testing.T) {
	gdb := openTestDB(t)
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	for _, table := range []string{"users", "requests", "request_histories", "comments", "files"} {
		if !gdb.Migrator().HasTable(table) {
			t.Errorf("table %q missing after migration", table)
		}
	}

	// Second run is a no-op.
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("second AutoMigrate: %v", err)
	}
}

func TestSeedAdmins_CreatesAndPromotes(t *testing.T) {
	gdb := openTestDB(t)
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	// An existing regular user gets promoted, not duplicated.
	existing := models.User{PlatformID: "u-1", Username: "alice", Role: models.RoleUser, IsActive: true}
	if err := gdb.Create(&existing).Error; err != nil {
		t.Fatalf("seed existing user: %v", err)
	}

	if err := SeedAdmins(gdb, []string{"u-1", "u-2"}); err != nil {
		t.Fatalf("SeedAdmins: %v", err)
	}

	var count int64
	gdb.Model(&models.User{}).Count(&count)
	if count != 2 {
		t.Fatalf("user count = %d, want 2", count)
	}

	var alice models.User
	if err := gdb.Where("platform_id = ?", "u-1").First(&alice).Error; err != nil {
		t.Fatalf("load alice: %v", err)
	}
	if alice.Role != models.RoleAdmin {
		t.Errorf("existing user role = %q, want admin", alice.Role)
	}
	if alice.Username != "alice" {
		t.Errorf("promotion should keep the username, got %q", alice.Username)
	}

	var fresh models.User
	if err := gdb.Where("platform_id = ?", "u-2").First(&fresh).Error; err != nil {
		t.Fatalf("load fresh admin: %v", err)
	}
	if fresh.Role != models.RoleAdmin || !fresh.IsActive {
		t.Errorf("fresh admin = %+v", fresh)
	}
}

func TestSeedAdmins_Idempotent(t *testing.T) {
	gdb := openTestDB(t)
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	if err := SeedAdmins(gdb, []string{"u-1"}); err != nil {
		t.Fatalf("SeedAdmins: %v", err)
	}
	if err := SeedAdmins(gdb, []string{"u-1"}); err != nil {
		t.Fatalf("second SeedAdmins: %v", err)
	}

	var count int64
	gdb.Model(&models.User{}).Count(&count)
	if count != 1 {
		t.Errorf("user count = %d, want 1", count)
	}
}
