// Package export renders request listings as CSV for admins.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/fixline/fixline/internal/models"
)

// timeLayout is the timestamp format used in exported rows.
const timeLayout = "2006-01-02 15:04"

// header is the CSV column order.
var header = []string{
	"id", "created_at", "status", "priority", "location",
	"title", "description", "requester", "assignee", "completed_at",
}

// RequestsCSV renders requests as semicolon-delimited CSV with a header
// row. Semicolons keep the files friendly to spreadsheet locales that
// treat commas as decimal separators.
func RequestsCSV(reqs []models.Request) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'

	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("export: write header: %w", err)
	}
	for i := range reqs {
		if err := w.Write(row(&reqs[i])); err != nil {
			return nil, fmt.Errorf("export: write request %d: %w", reqs[i].ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("export: flush: %w", err)
	}
	return buf.Bytes(), nil
}

func row(r *models.Request) []string {
	assignee := ""
	if r.Assignee != nil {
		assignee = r.Assignee.DisplayName()
	}
	completed := ""
	if r.CompletedAt != nil {
		completed = r.CompletedAt.Format(timeLayout)
	}
	return []string{
		strconv.FormatUint(uint64(r.ID), 10),
		r.CreatedAt.Format(timeLayout),
		r.Status,
		r.Priority,
		r.Location,
		r.Title,
		r.Description,
		r.User.DisplayName(),
		assignee,
		completed,
	}
}

// FileName builds a timestamped export file name.
func FileName(now time.Time) string {
	return "requests_" + now.Format("20060102_150405") + ".csv"
}
