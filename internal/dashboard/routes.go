package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fixline/fixline/internal/export"
	"github.com/fixline/fixline/internal/models"
	"github.com/fixline/fixline/internal/ticket"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	api := router.Group("/api")
	api.GET("/requests", handleRequests(opts.Tickets))
	api.GET("/requests/:id", handleRequestDetail(opts.Tickets))
	api.GET("/queue", handleQueue(opts.Tickets))
	api.GET("/archive", handleArchive(opts.Tickets))
	api.GET("/stats", handleStats(opts))
	api.GET("/export.csv", handleExport(opts.Tickets))
	api.GET("/events", handleSSE(opts.DB))
}

// requestView is the JSON shape for request listings.
type requestView struct {
	ID          uint   `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	Requester   string `json:"requester"`
	Assignee    string `json:"assignee,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func toView(r *models.Request, full bool) requestView {
	v := requestView{
		ID:        r.ID,
		Title:     r.Title,
		Location:  r.Location,
		Status:    r.Status,
		Priority:  r.Priority,
		Requester: r.User.DisplayName(),
		CreatedAt: r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	if r.Assignee != nil {
		v.Assignee = r.Assignee.DisplayName()
	}
	if r.CompletedAt != nil {
		v.CompletedAt = r.CompletedAt.UTC().Format("2006-01-02T15:04:05Z")
	}
	if full {
		v.Description = r.Description
	}
	return v
}

func toViews(reqs []models.Request) []requestView {
	views := make([]requestView, 0, len(reqs))
	for i := range reqs {
		views = append(views, toView(&reqs[i], false))
	}
	return views
}

// handleRequests lists requests filtered by status/priority/since query params.
func handleRequests(tickets *ticket.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		filter := ticket.Filter{
			Status:   c.Query("status"),
			Priority: c.Query("priority"),
			Limit:    limit,
		}
		if since := c.Query("since"); since != "" {
			cutoff, err := time.Parse("2006-01-02", since)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bad since date, want YYYY-MM-DD"})
				return
			}
			filter.CreatedAfter = cutoff
		}
		reqs, err := tickets.List(filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": toViews(reqs)})
	}
}

// handleRequestDetail shows one request with comments and history.
func handleRequestDetail(tickets *ticket.Service) gin.HandlerFunc {
	type commentView struct {
		Author    string `json:"author"`
		Body      string `json:"body"`
		CreatedAt string `json:"created_at"`
	}
	type historyView struct {
		Action    string `json:"action"`
		Details   string `json:"details,omitempty"`
		CreatedAt string `json:"created_at"`
	}
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad request id"})
			return
		}
		req, err := tickets.ByID(uint(id))
		if err != nil {
			if errors.Is(err, ticket.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}

		comments := make([]commentView, 0, len(req.Comments))
		for i := range req.Comments {
			cm := &req.Comments[i]
			comments = append(comments, commentView{
				Author:    cm.User.DisplayName(),
				Body:      cm.Body,
				CreatedAt: cm.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
		history := make([]historyView, 0, len(req.History))
		for i := range req.History {
			h := &req.History[i]
			history = append(history, historyView{
				Action:    h.Action,
				Details:   h.Details,
				CreatedAt: h.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"request":  toView(req, true),
			"comments": comments,
			"history":  history,
			"files":    len(req.Files),
		})
	}
}

// handleQueue lists active requests in triage order.
func handleQueue(tickets *ticket.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs, err := tickets.Triage()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": toViews(reqs)})
	}
}

// handleArchive lists recently completed requests.
func handleArchive(tickets *ticket.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		reqs, err := tickets.Archive(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requests": toViews(reqs)})
	}
}

// handleStats returns the analytics snapshot.
func handleStats(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		sum, err := opts.Stats.Summarize(opts.OverdueAfter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, sum)
	}
}

// handleExport streams the CSV export.
func handleExport(tickets *ticket.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs, err := tickets.List(ticket.Filter{
			Status:   c.Query("status"),
			Priority: c.Query("priority"),
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		data, err := export.RequestsCSV(reqs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}
		c.Header("Content-Disposition", "attachment; filename=requests.csv")
		c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
	}
}
