package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/fixline/fixline/internal/models"
)

func TestRequestsCSV_HeaderOnly(t *testing.T) {
	data, err := RequestsCSV(nil)
	if err != nil {
		t.Fatalf("RequestsCSV: %v", err)
	}
	if string(bytes.TrimSpace(data)) != "id;created_at;status;priority;location;title;description;requester;assignee;completed_at" {
		t.Errorf("header = %q", data)
	}
}

func TestRequestsCSV_Rows(t *testing.T) {
	created := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	completed := created.Add(5 * time.Hour)
	reqs := []models.Request{
		{
			ID:          7,
			Title:       "Broken window",
			Description: "Broken window; shards on the floor",
			Location:    "1F lobby",
			Status:      models.StatusCompleted,
			Priority:    models.PriorityHigh,
			CreatedAt:   created,
			CompletedAt: &completed,
			User:        models.User{Username: "alice"},
			Assignee:    &models.User{Username: "bob"},
		},
		{
			ID:          8,
			Title:       "Squeaky door",
			Description: "Hinge needs oil",
			Location:    "unspecified",
			Status:      models.StatusOpen,
			Priority:    models.PriorityLow,
			CreatedAt:   created,
			User:        models.User{Username: "alice"},
		},
	}

	data, err := RequestsCSV(reqs)
	if err != nil {
		t.Fatalf("RequestsCSV: %v", err)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = ';'
	records, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want header + 2 rows", len(records))
	}

	first := records[1]
	if first[0] != "7" || first[2] != "completed" || first[3] != "high" {
		t.Errorf("row = %v", first)
	}
	if first[6] != "Broken window; shards on the floor" {
		t.Errorf("semicolons in fields must round-trip, got %q", first[6])
	}
	if first[8] != "@bob" {
		t.Errorf("assignee = %q", first[8])
	}
	if first[9] != "2025-06-01 14:30" {
		t.Errorf("completed_at = %q", first[9])
	}

	second := records[2]
	if second[8] != "" || second[9] != "" {
		t.Errorf("unassigned open request should have blank assignee and completion: %v", second)
	}
}

func TestFileName(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 30, 15, 0, time.UTC)
	if got := FileName(now); got != "requests_20250601_093015.csv" {
		t.Errorf("FileName = %q", got)
	}
}
