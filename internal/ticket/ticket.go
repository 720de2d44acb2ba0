// Package ticket implements the maintenance request lifecycle: creation,
// status transitions, comments, attachments, and the audit trail. All
// mutations go through the Service so that every state change is guarded,
// recorded in history, and announced to the notifier.
package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/fixline/fixline/internal/models"
	"github.com/fixline/fixline/internal/ratelimit"
	"github.com/fixline/fixline/internal/validate"
	"gorm.io/gorm"
)

// Rate-limited action names.
const (
	ActionCreateRequest = "create_request"
	ActionAddComment    = "add_comment"
)

// History action tags.
const (
	HistoryCreated         = "created"
	HistoryStatusChanged   = "status_changed"
	HistoryPriorityChanged = "priority_changed"
	HistoryCommentAdded    = "comment_added"
	HistoryFileAttached    = "file_attached"
)

// Notifier receives announcements after a lifecycle change commits.
// Implementations are best-effort; delivery failures must not propagate
// back into the ticket transaction.
type Notifier interface {
	RequestCreated(req *models.Request)
	RequestStatusChanged(req *models.Request, oldStatus string, actor *models.User)
	RequestOverdue(req *models.Request)
}

// nopNotifier is used when no notifier is configured.
type nopNotifier struct{}

func (nopNotifier) RequestCreated(*models.Request)                             {}
func (nopNotifier) RequestStatusChanged(*models.Request, string, *models.User) {}
func (nopNotifier) RequestOverdue(*models.Request)                             {}

// Service coordinates all request mutations.
type Service struct {
	db       *gorm.DB
	limiter  ratelimit.Limiter
	notifier Notifier
	now      func() time.Time
}

// Opts holds parameters for creating a Service.
type Opts struct {
	DB       *gorm.DB
	Limiter  ratelimit.Limiter // optional; nil disables rate limiting
	Notifier Notifier          // optional
	Now      func() time.Time  // optional; defaults to time.Now
}

// New creates a Service.
func New(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("ticket: db is required")
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:       opts.DB,
		limiter:  opts.Limiter,
		notifier: notifier,
		now:      now,
	}, nil
}

// GetOrCreateUser resolves a chat platform identity to a User row, creating
// it on first contact and refreshing the profile fields on later ones.
func (s *Service) GetOrCreateUser(platformID, username, firstName, lastName string) (*models.User, error) {
	var user models.User
	err := s.db.Where(models.User{PlatformID: platformID}).
		Attrs(models.User{
			Username:  username,
			FirstName: firstName,
			LastName:  lastName,
			Role:      models.RoleUser,
			IsActive:  true,
		}).
		FirstOrCreate(&user).Error
	if err != nil {
		return nil, fmt.Errorf("ticket: get or create user %q: %w", platformID, err)
	}

	if user.Username != username || user.FirstName != firstName || user.LastName != lastName {
		user.Username = username
		user.FirstName = firstName
		user.LastName = lastName
		if err := s.db.Model(&user).Updates(map[string]interface{}{
			"username":   username,
			"first_name": firstName,
			"last_name":  lastName,
		}).Error; err != nil {
			return nil, fmt.Errorf("ticket: refresh user %q: %w", platformID, err)
		}
	}
	return &user, nil
}

// CreateAllowed reports whether the user is currently under the creation
// rate limit. It does not record an attempt; Create does that.
func (s *Service) CreateAllowed(userID uint) (bool, time.Duration) {
	if s.limiter == nil {
		return true, 0
	}
	return s.limiter.Peek(userID, ActionCreateRequest)
}

// CreateInput carries the fields for a new request. Location defaults to
// "unspecified" and Priority to medium when empty.
type CreateInput struct {
	User        *models.User
	Description string
	Location    string
	Priority    string
	Files       []models.File
}

// Create validates input, enforces the creation rate limit, and inserts the
// request with its initial history entry and attachments in one transaction.
func (s *Service) Create(in CreateInput) (*models.Request, error) {
	if in.User == nil {
		return nil, fmt.Errorf("ticket: create: user is required")
	}
	if s.limiter != nil {
		if ok, retry := s.limiter.Allow(in.User.ID, ActionCreateRequest); !ok {
			return nil, &RateLimitedError{Action: ActionCreateRequest, RetryAfter: retry}
		}
	}

	desc, err := validate.DraftDescription(in.Description)
	if err != nil {
		return nil, err
	}
	location := in.Location
	if location == "" {
		location = "unspecified"
	}
	if location, err = validate.Location(location); err != nil {
		return nil, err
	}
	priority := in.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !models.ValidPriority(priority) {
		return nil, &validate.Error{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", priority)}
	}

	req := models.Request{
		UserID:      in.User.ID,
		Title:       validate.TitleFromDescription(desc),
		Description: desc,
		Location:    location,
		Status:      models.StatusOpen,
		Priority:    priority,
		CreatedAt:   s.now(),
		UpdatedAt:   s.now(),
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&req).Error; err != nil {
			return fmt.Errorf("ticket: create request: %w", err)
		}
		hist := models.RequestHistory{
			RequestID: req.ID,
			Action:    HistoryCreated,
			Details:   fmt.Sprintf("priority %s, location %s", priority, location),
			UserID:    &in.User.ID,
			CreatedAt: s.now(),
		}
		if err := tx.Create(&hist).Error; err != nil {
			return fmt.Errorf("ticket: record creation: %w", err)
		}
		for i := range in.Files {
			in.Files[i].RequestID = req.ID
			in.Files[i].UploadedBy = in.User.ID
			if err := tx.Create(&in.Files[i]).Error; err != nil {
				return fmt.Errorf("ticket: attach file: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	created, err := s.ByID(req.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.RequestCreated(created)
	return created, nil
}

// Take moves an open request to in_progress and assigns it to the acting
// admin. Returns ErrNotActionable if the request is not open.
func (s *Service) Take(requestID uint, actor *models.User) (*models.Request, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.transition(requestID, actor,
		func(r *models.Request) bool { return r.Status == models.StatusOpen },
		map[string]interface{}{
			"status":      models.StatusInProgress,
			"assigned_to": actor.ID,
			"updated_at":  s.now(),
		},
		HistoryStatusChanged,
		fmt.Sprintf("%s -> %s", models.StatusOpen, models.StatusInProgress),
	)
}

// Complete moves an in_progress request to completed and stamps the
// completion time. Returns ErrNotActionable otherwise.
func (s *Service) Complete(requestID uint, actor *models.User) (*models.Request, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	completedAt := s.now()
	return s.transition(requestID, actor,
		func(r *models.Request) bool { return r.Status == models.StatusInProgress },
		map[string]interface{}{
			"status":       models.StatusCompleted,
			"completed_at": completedAt,
			"updated_at":   completedAt,
		},
		HistoryStatusChanged,
		fmt.Sprintf("%s -> %s", models.StatusInProgress, models.StatusCompleted),
	)
}

// Reject moves any non-terminal request to rejected, recording the reason in
// history. Rejecting an already terminal request returns ErrNotActionable
// and leaves the trail untouched.
func (s *Service) Reject(requestID uint, actor *models.User, reason string) (*models.Request, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	details := "rejected"
	if reason != "" {
		details = "rejected: " + reason
	}
	return s.transition(requestID, actor,
		func(r *models.Request) bool { return !r.Terminal() },
		map[string]interface{}{
			"status":     models.StatusRejected,
			"updated_at": s.now(),
		},
		HistoryStatusChanged,
		details,
	)
}

// SetPriority changes the priority of a request. There is no status guard;
// triage may reprioritize any request, terminal ones included.
func (s *Service) SetPriority(requestID uint, actor *models.User, priority string) (*models.Request, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !models.ValidPriority(priority) {
		return nil, &validate.Error{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", priority)}
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		req, err := lockRequest(tx, requestID)
		if err != nil {
			return err
		}
		if req.Priority == priority {
			return nil
		}
		res := tx.Model(&models.Request{}).
			Where("id = ?", requestID).
			Updates(map[string]interface{}{"priority": priority, "updated_at": s.now()})
		if res.Error != nil {
			return fmt.Errorf("ticket: set priority on %d: %w", requestID, res.Error)
		}
		hist := models.RequestHistory{
			RequestID: requestID,
			Action:    HistoryPriorityChanged,
			Details:   fmt.Sprintf("%s -> %s", req.Priority, priority),
			UserID:    &actor.ID,
			CreatedAt: s.now(),
		}
		if err := tx.Create(&hist).Error; err != nil {
			return fmt.Errorf("ticket: record priority change: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.ByID(requestID)
}

// AddComment appends a comment to an existing request, enforcing the comment
// rate limit. Comments are allowed in any status, but only from the
// requester or an admin; anyone else gets ErrForbidden.
func (s *Service) AddComment(requestID uint, user *models.User, body string) (*models.Comment, error) {
	if user == nil {
		return nil, fmt.Errorf("ticket: add comment: user is required")
	}
	if s.limiter != nil {
		if ok, retry := s.limiter.Allow(user.ID, ActionAddComment); !ok {
			return nil, &RateLimitedError{Action: ActionAddComment, RetryAfter: retry}
		}
	}
	body, err := validate.Comment(body)
	if err != nil {
		return nil, err
	}

	comment := models.Comment{
		RequestID: requestID,
		UserID:    user.ID,
		Body:      body,
		CreatedAt: s.now(),
	}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		req, err := lockRequest(tx, requestID)
		if err != nil {
			return err
		}
		if !user.IsAdmin() && req.UserID != user.ID {
			return ErrForbidden
		}
		if err := tx.Create(&comment).Error; err != nil {
			return fmt.Errorf("ticket: add comment to %d: %w", requestID, err)
		}
		hist := models.RequestHistory{
			RequestID: requestID,
			Action:    HistoryCommentAdded,
			UserID:    &user.ID,
			CreatedAt: s.now(),
		}
		if err := tx.Create(&hist).Error; err != nil {
			return fmt.Errorf("ticket: record comment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// AttachFile records an attachment reference on an existing request. Like
// comments, attachments are limited to the requester and admins.
func (s *Service) AttachFile(requestID uint, user *models.User, file models.File) (*models.File, error) {
	if user == nil {
		return nil, fmt.Errorf("ticket: attach file: user is required")
	}
	file.RequestID = requestID
	file.UploadedBy = user.ID
	if file.FileType == "" {
		file.FileType = models.FileTypePhoto
	}
	file.CreatedAt = s.now()

	err := s.db.Transaction(func(tx *gorm.DB) error {
		req, err := lockRequest(tx, requestID)
		if err != nil {
			return err
		}
		if !user.IsAdmin() && req.UserID != user.ID {
			return ErrForbidden
		}
		if err := tx.Create(&file).Error; err != nil {
			return fmt.Errorf("ticket: attach file to %d: %w", requestID, err)
		}
		hist := models.RequestHistory{
			RequestID: requestID,
			Action:    HistoryFileAttached,
			Details:   file.FileName,
			UserID:    &user.ID,
			CreatedAt: s.now(),
		}
		if err := tx.Create(&hist).Error; err != nil {
			return fmt.Errorf("ticket: record attachment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// transition performs a guarded status change. The update is conditional on
// the status observed inside the transaction, so a concurrent transition
// makes the second writer fail with ErrNotActionable instead of clobbering.
func (s *Service) transition(requestID uint, actor *models.User, allowed func(*models.Request) bool, updates map[string]interface{}, action, details string) (*models.Request, error) {
	var oldStatus string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		req, err := lockRequest(tx, requestID)
		if err != nil {
			return err
		}
		if !allowed(req) {
			return ErrNotActionable
		}
		oldStatus = req.Status

		res := tx.Model(&models.Request{}).
			Where("id = ? AND status = ?", requestID, req.Status).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("ticket: transition request %d: %w", requestID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotActionable
		}

		hist := models.RequestHistory{
			RequestID: requestID,
			Action:    action,
			Details:   details,
			UserID:    &actor.ID,
			CreatedAt: s.now(),
		}
		if err := tx.Create(&hist).Error; err != nil {
			return fmt.Errorf("ticket: record transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req, err := s.ByID(requestID)
	if err != nil {
		return nil, err
	}
	s.notifier.RequestStatusChanged(req, oldStatus, actor)
	return req, nil
}

// lockRequest loads a request inside a transaction, translating a missing
// row into ErrNotFound.
func lockRequest(tx *gorm.DB, requestID uint) (*models.Request, error) {
	var req models.Request
	if err := tx.First(&req, requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ticket: load request %d: %w", requestID, err)
	}
	return &req, nil
}

func requireAdmin(actor *models.User) error {
	if actor == nil || !actor.IsAdmin() {
		return ErrForbidden
	}
	return nil
}
