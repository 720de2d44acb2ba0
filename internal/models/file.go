package models

import "time"

// File attachment types.
const (
	FileTypePhoto    = "photo"
	FileTypeDocument = "document"
)

// File references an externally stored blob attached to a request. FileRef
// is the chat platform's opaque token for the blob; the bot never stores
// file contents itself. Append-only.
type File struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	RequestID  uint   `gorm:"not null;index"`
	FileRef    string `gorm:"size:128;not null"`
	FileType   string `gorm:"size:16;default:photo"`
	FileName   string `gorm:"size:128"`
	UploadedBy uint   `gorm:"not null"`
	CreatedAt  time.Time
}
