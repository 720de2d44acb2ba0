package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/fixline/fixline/internal/models"
	"gorm.io/gorm"
)

// triageOrder sorts high priority first and, within a priority, oldest
// first. Spelled as a CASE so it works on both MySQL and SQLite.
const triageOrder = "CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 WHEN 'low' THEN 2 ELSE 3 END, created_at ASC"

// DefaultArchiveLimit caps the archive listing.
const DefaultArchiveLimit = 50

// ByID loads a request with its requester, assignee, comments, files, and
// history trail.
func (s *Service) ByID(requestID uint) (*models.Request, error) {
	var req models.Request
	err := s.db.
		Preload("User").
		Preload("Assignee").
		Preload("Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("Comments.User").
		Preload("Files").
		Preload("History", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		First(&req, requestID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ticket: load request %d: %w", requestID, err)
	}
	return &req, nil
}

// Triage lists all active requests in working order: high priority first,
// oldest first within a priority.
func (s *Service) Triage() ([]models.Request, error) {
	var reqs []models.Request
	err := s.db.
		Preload("User").
		Preload("Assignee").
		Where("status IN ?", []string{models.StatusOpen, models.StatusInProgress}).
		Order(triageOrder).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("ticket: triage query: %w", err)
	}
	return reqs, nil
}

// Archive lists completed requests, newest first, capped at limit
// (DefaultArchiveLimit when limit <= 0).
func (s *Service) Archive(limit int) ([]models.Request, error) {
	if limit <= 0 {
		limit = DefaultArchiveLimit
	}
	var reqs []models.Request
	err := s.db.
		Preload("User").
		Preload("Assignee").
		Where("status = ?", models.StatusCompleted).
		Order("completed_at DESC").
		Limit(limit).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("ticket: archive query: %w", err)
	}
	return reqs, nil
}

// ForUser lists a requester's own requests, newest first.
func (s *Service) ForUser(userID uint) ([]models.Request, error) {
	var reqs []models.Request
	err := s.db.
		Preload("Assignee").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("ticket: requests for user %d: %w", userID, err)
	}
	return reqs, nil
}

// Filter narrows the request listing for admin views and the dashboard.
// Zero-valued fields are ignored.
type Filter struct {
	Status       string
	Priority     string
	AssignedTo   uint
	CreatedAfter time.Time
	Limit        int
}

// List returns requests matching the filter in triage order.
func (s *Service) List(f Filter) ([]models.Request, error) {
	q := s.db.Preload("User").Preload("Assignee").Order(triageOrder)
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.AssignedTo != 0 {
		q = q.Where("assigned_to = ?", f.AssignedTo)
	}
	if !f.CreatedAfter.IsZero() {
		q = q.Where("created_at >= ?", f.CreatedAfter)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var reqs []models.Request
	if err := q.Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("ticket: filtered query: %w", err)
	}
	return reqs, nil
}

// Overdue lists active high-priority requests created before the cutoff.
func (s *Service) Overdue(overdueAfter time.Duration) ([]models.Request, error) {
	cutoff := s.now().Add(-overdueAfter)
	var reqs []models.Request
	err := s.db.
		Preload("User").
		Preload("Assignee").
		Where("priority = ? AND status IN ? AND created_at < ?",
			models.PriorityHigh,
			[]string{models.StatusOpen, models.StatusInProgress},
			cutoff).
		Order("created_at ASC").
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("ticket: overdue query: %w", err)
	}
	return reqs, nil
}

// NotifyOverdue announces each overdue request through the notifier.
func (s *Service) NotifyOverdue(reqs []models.Request) {
	for i := range reqs {
		s.notifier.RequestOverdue(&reqs[i])
	}
}

// Admins lists active admin users.
func (s *Service) Admins() ([]models.User, error) {
	var admins []models.User
	err := s.db.
		Where("role = ? AND is_active = ?", models.RoleAdmin, true).
		Order("id ASC").
		Find(&admins).Error
	if err != nil {
		return nil, fmt.Errorf("ticket: list admins: %w", err)
	}
	return admins, nil
}
