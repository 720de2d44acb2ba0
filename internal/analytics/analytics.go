// Package analytics computes aggregate metrics over the request backlog for
// the stats command, the daily digest, and the dashboard.
package analytics

import (
	"fmt"
	"time"

	"github.com/fixline/fixline/internal/models"
	"gorm.io/gorm"
)

// DayCount is one day's worth of created requests, keyed by ISO date.
type DayCount struct {
	Day   string
	Count int64
}

// Summary is a point-in-time snapshot of backlog health.
type Summary struct {
	Total               int64
	ByStatus            map[string]int64
	ByPriority          map[string]int64
	CompletionRate      float64
	AvgCompletionHours  float64
	CreatedLast7Days    []DayCount
	OverdueHighPriority int64
}

// Service computes summaries from the database.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// Opts holds parameters for creating a Service.
type Opts struct {
	DB  *gorm.DB
	Now func() time.Time // optional
}

// New creates an analytics Service.
func New(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("analytics: db is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{db: opts.DB, now: now}, nil
}

// Summarize computes the full metrics snapshot. The overdue count uses the
// given threshold for active high-priority requests.
func (s *Service) Summarize(overdueAfter time.Duration) (*Summary, error) {
	sum := &Summary{
		ByStatus:   make(map[string]int64),
		ByPriority: make(map[string]int64),
	}

	type bucket struct {
		Key   string
		Count int64
	}

	var statusBuckets []bucket
	if err := s.db.Model(&models.Request{}).
		Select("status AS key, COUNT(*) AS count").
		Group("status").
		Scan(&statusBuckets).Error; err != nil {
		return nil, fmt.Errorf("analytics: status counts: %w", err)
	}
	for _, b := range statusBuckets {
		sum.ByStatus[b.Key] = b.Count
		sum.Total += b.Count
	}

	var priorityBuckets []bucket
	if err := s.db.Model(&models.Request{}).
		Select("priority AS key, COUNT(*) AS count").
		Group("priority").
		Scan(&priorityBuckets).Error; err != nil {
		return nil, fmt.Errorf("analytics: priority counts: %w", err)
	}
	for _, b := range priorityBuckets {
		sum.ByPriority[b.Key] = b.Count
	}

	if sum.Total > 0 {
		sum.CompletionRate = float64(sum.ByStatus[models.StatusCompleted]) / float64(sum.Total)
	}

	avg, err := s.avgCompletionHours()
	if err != nil {
		return nil, err
	}
	sum.AvgCompletionHours = avg

	daily, err := s.createdByDay(7)
	if err != nil {
		return nil, err
	}
	sum.CreatedLast7Days = daily

	cutoff := s.now().Add(-overdueAfter)
	if err := s.db.Model(&models.Request{}).
		Where("priority = ? AND status IN ? AND created_at < ?",
			models.PriorityHigh,
			[]string{models.StatusOpen, models.StatusInProgress},
			cutoff).
		Count(&sum.OverdueHighPriority).Error; err != nil {
		return nil, fmt.Errorf("analytics: overdue count: %w", err)
	}

	return sum, nil
}

// avgCompletionHours averages completed_at - created_at across completed
// requests. Computed in Go so the arithmetic is identical on MySQL and
// SQLite.
func (s *Service) avgCompletionHours() (float64, error) {
	type span struct {
		CreatedAt   time.Time
		CompletedAt *time.Time
	}
	var spans []span
	if err := s.db.Model(&models.Request{}).
		Select("created_at, completed_at").
		Where("status = ? AND completed_at IS NOT NULL", models.StatusCompleted).
		Scan(&spans).Error; err != nil {
		return 0, fmt.Errorf("analytics: completion spans: %w", err)
	}
	if len(spans) == 0 {
		return 0, nil
	}
	var total time.Duration
	for _, sp := range spans {
		total += sp.CompletedAt.Sub(sp.CreatedAt)
	}
	return (total / time.Duration(len(spans))).Hours(), nil
}

// createdByDay buckets request creation counts for the trailing N days,
// including zero days, oldest first.
func (s *Service) createdByDay(days int) ([]DayCount, error) {
	start := s.now().AddDate(0, 0, -(days - 1)).Truncate(24 * time.Hour)

	type row struct {
		CreatedAt time.Time
	}
	var rows []row
	if err := s.db.Model(&models.Request{}).
		Select("created_at").
		Where("created_at >= ?", start).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("analytics: daily counts: %w", err)
	}

	counts := make(map[string]int64)
	for _, r := range rows {
		counts[r.CreatedAt.Format("2006-01-02")]++
	}

	out := make([]DayCount, 0, days)
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i).Format("2006-01-02")
		out = append(out, DayCount{Day: day, Count: counts[day]})
	}
	return out, nil
}
