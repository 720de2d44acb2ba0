package models

import (
	"strings"
	"time"
)

// User roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an actor interacting with Fixline: a requester or an admin.
// Users are auto-provisioned on first contact with the bot.
type User struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	PlatformID string `gorm:"size:64;uniqueIndex;not null"`
	Username   string `gorm:"size:64"`
	FirstName  string `gorm:"size:64"`
	LastName   string `gorm:"size:64"`
	Role       string `gorm:"size:16;default:user"`
	IsActive   bool   `gorm:"default:true"`
	CreatedAt  time.Time
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// DisplayName returns the best available human-readable name.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Username != "" {
		return "@" + u.Username
	}
	return u.PlatformID
}
