package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/fixline/fixline/internal/analytics"
	"github.com/fixline/fixline/internal/models"
)

// Display strings for status and priority tags. These exist only in the
// presentation layer; storage and APIs use the symbolic tags.
var statusLabels = map[string]string{
	models.StatusOpen:       "Open",
	models.StatusInProgress: "In progress",
	models.StatusCompleted:  "Completed",
	models.StatusRejected:   "Rejected",
}

var priorityLabels = map[string]string{
	models.PriorityHigh:   "High",
	models.PriorityMedium: "Medium",
	models.PriorityLow:    "Low",
}

// StatusLabel returns the human-readable form of a status tag.
func StatusLabel(status string) string {
	if label, ok := statusLabels[status]; ok {
		return label
	}
	return status
}

// PriorityLabel returns the human-readable form of a priority tag.
func PriorityLabel(priority string) string {
	if label, ok := priorityLabels[priority]; ok {
		return label
	}
	return priority
}

// FormatRequestLine renders one request as a single queue line.
func FormatRequestLine(r *models.Request) string {
	assignee := ""
	if r.Assignee != nil {
		assignee = " → " + r.Assignee.DisplayName()
	}
	return fmt.Sprintf("#%d [%s/%s] %s (%s)%s",
		r.ID, PriorityLabel(r.Priority), StatusLabel(r.Status),
		truncate(r.Title, 60), r.Location, assignee)
}

// FormatQueue renders a request listing with a heading.
func FormatQueue(heading string, reqs []models.Request) string {
	if len(reqs) == 0 {
		return heading + "\nNothing here."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d)\n", heading, len(reqs))
	for i := range reqs {
		b.WriteString(FormatRequestLine(&reqs[i]))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatRequestDetail renders a full request view with comments and the
// history trail.
func FormatRequestDetail(r *models.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request #%d — %s\n", r.ID, r.Title)
	fmt.Fprintf(&b, "Status: %s | Priority: %s | Location: %s\n",
		StatusLabel(r.Status), PriorityLabel(r.Priority), r.Location)
	fmt.Fprintf(&b, "Filed by %s on %s\n", r.User.DisplayName(), r.CreatedAt.Format("2006-01-02 15:04"))
	if r.Assignee != nil {
		fmt.Fprintf(&b, "Assigned to %s\n", r.Assignee.DisplayName())
	}
	if r.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed on %s\n", r.CompletedAt.Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(&b, "\n%s\n", r.Description)

	if len(r.Files) > 0 {
		fmt.Fprintf(&b, "\nAttachments: %d\n", len(r.Files))
	}
	if len(r.Comments) > 0 {
		b.WriteString("\nComments:\n")
		for i := range r.Comments {
			c := &r.Comments[i]
			fmt.Fprintf(&b, "  %s [%s]: %s\n",
				c.User.DisplayName(), c.CreatedAt.Format("01-02 15:04"), c.Body)
		}
	}
	if len(r.History) > 0 {
		b.WriteString("\nHistory:\n")
		for i := range r.History {
			h := &r.History[i]
			line := h.Action
			if h.Details != "" {
				line += " (" + h.Details + ")"
			}
			fmt.Fprintf(&b, "  %s %s\n", h.CreatedAt.Format("01-02 15:04"), line)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatSummary renders an analytics snapshot for the stats command and the
// daily digest.
func FormatSummary(sum *analytics.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Requests: %d total\n", sum.Total)
	for _, status := range []string{models.StatusOpen, models.StatusInProgress, models.StatusCompleted, models.StatusRejected} {
		if n := sum.ByStatus[status]; n > 0 {
			fmt.Fprintf(&b, "  %s: %d\n", StatusLabel(status), n)
		}
	}
	fmt.Fprintf(&b, "Completion rate: %.0f%%\n", sum.CompletionRate*100)
	if sum.AvgCompletionHours > 0 {
		fmt.Fprintf(&b, "Avg time to complete: %.1fh\n", sum.AvgCompletionHours)
	}
	if sum.OverdueHighPriority > 0 {
		fmt.Fprintf(&b, "Overdue high priority: %d\n", sum.OverdueHighPriority)
	}
	b.WriteString("Last 7 days:")
	for _, dc := range sum.CreatedLast7Days {
		fmt.Fprintf(&b, " %d", dc.Count)
	}
	return b.String()
}

// FormatStatusChange renders the requester-facing status change notice.
func FormatStatusChange(r *models.Request, oldStatus string) string {
	msg := fmt.Sprintf("Request #%d (%s): %s → %s",
		r.ID, truncate(r.Title, 40), StatusLabel(oldStatus), StatusLabel(r.Status))
	if r.Status == models.StatusInProgress && r.Assignee != nil {
		msg += fmt.Sprintf("\nTaken by %s.", r.Assignee.DisplayName())
	}
	return msg
}

// FormatOverdue renders the admin-facing overdue alert.
func FormatOverdue(r *models.Request, now time.Time) string {
	age := now.Sub(r.CreatedAt).Round(time.Hour)
	return fmt.Sprintf("Overdue: #%d [%s] %s — open for %s",
		r.ID, PriorityLabel(r.Priority), truncate(r.Title, 60), age)
}

// truncate returns s cut to maxLen runes with "..." appended if needed.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
