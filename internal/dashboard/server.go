// Package dashboard serves the admin triage board as a JSON API with a
// server-sent events stream for new requests.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fixline/fixline/internal/analytics"
	"github.com/fixline/fixline/internal/ticket"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	DB           *gorm.DB
	Tickets      *ticket.Service
	Stats        *analytics.Service
	Addr         string        // defaults to ":8090"
	OverdueAfter time.Duration // defaults to 48h
	Out          io.Writer
}

// Start launches the dashboard HTTP server. It blocks until ctx is
// cancelled, then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("dashboard: db is required")
	}
	if opts.Tickets == nil {
		return fmt.Errorf("dashboard: ticket service is required")
	}
	if opts.Stats == nil {
		return fmt.Errorf("dashboard: analytics service is required")
	}
	if opts.Addr == "" {
		opts.Addr = ":8090"
	}
	if opts.OverdueAfter <= 0 {
		opts.OverdueAfter = 48 * time.Hour
	}

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(opts)

	srv := &http.Server{
		Addr:    opts.Addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost%s\n", opts.Addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// NewRouter builds the gin router with all dashboard routes registered.
// Exposed separately so tests can drive it with httptest.
func NewRouter(opts StartOpts) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router
}
