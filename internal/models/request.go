package models

import "time"

// Request statuses. Stored as stable symbolic tags; display strings live in
// the presentation layer only.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusRejected   = "rejected"
)

// Request priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// ValidPriority reports whether p is one of the known priority tags.
func ValidPriority(p string) bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Request is a maintenance ticket. It is created by the intake flow and
// mutated only through the ticket service's transition operations; it is
// never hard-deleted (archival is a status filter).
type Request struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	UserID      uint   `gorm:"not null;index"`
	Title       string `gorm:"size:100;not null"`
	Description string `gorm:"size:1000;not null"`
	Location    string `gorm:"size:100;not null"`
	Status      string `gorm:"size:16;default:open;index"`
	Priority    string `gorm:"size:16;default:medium;index"`
	AssignedTo  *uint
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	User     User             `gorm:"foreignKey:UserID"`
	Assignee *User            `gorm:"foreignKey:AssignedTo"`
	Comments []Comment        `gorm:"foreignKey:RequestID"`
	Files    []File           `gorm:"foreignKey:RequestID"`
	History  []RequestHistory `gorm:"foreignKey:RequestID"`
}

// Terminal reports whether the request is in a terminal status.
func (r *Request) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusRejected
}

// RequestHistory is one append-only audit entry for a state-changing action
// on a request. Entries are never updated, removed, or reordered.
type RequestHistory struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	RequestID uint   `gorm:"not null;index"`
	Action    string `gorm:"size:32;not null"`
	Details   string `gorm:"type:text"`
	UserID    *uint
	CreatedAt time.Time
}
