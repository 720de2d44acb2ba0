package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fixline/fixline/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// requestEvent holds data for a new-request SSE event.
type requestEvent struct {
	ID       uint   `json:"id"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Location string `json:"location"`
	Open     int64  `json:"open"`
}

// handleSSE creates an SSE handler that polls for newly filed requests.
func handleSSE(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		// Without a DB there is nothing to poll.
		if db == nil {
			return
		}

		// Only alert on requests filed after the stream opened.
		var lastSeenID uint
		var latest models.Request
		if err := db.Order("id DESC").Limit(1).First(&latest).Error; err == nil {
			lastSeenID = latest.ID
		}

		ctx := c.Request.Context()
		ticker := time.NewTicker(3 * time.Second)
		heartbeat := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				var fresh []models.Request
				db.Where("id > ?", lastSeenID).
					Order("id ASC").
					Find(&fresh)
				if len(fresh) == 0 {
					continue
				}
				lastSeenID = fresh[len(fresh)-1].ID

				var open int64
				db.Model(&models.Request{}).
					Where("status = ?", models.StatusOpen).
					Count(&open)

				for i := range fresh {
					writeSSE(c.Writer, "request", requestEvent{
						ID:       fresh[i].ID,
						Title:    fresh[i].Title,
						Priority: fresh[i].Priority,
						Location: fresh[i].Location,
						Open:     open,
					})
				}
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
