package models

import "time"

// Comment is a free-text annotation on a request. Append-only and immutable
// once created, ordered by creation time.
type Comment struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	RequestID uint   `gorm:"not null;index"`
	UserID    uint   `gorm:"not null"`
	Body      string `gorm:"size:500;not null"`
	CreatedAt time.Time

	User User `gorm:"foreignKey:UserID"`
}
