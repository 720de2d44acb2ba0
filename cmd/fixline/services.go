package main

import (
	"github.com/fixline/fixline/internal/analytics"
	"github.com/fixline/fixline/internal/ratelimit"
	"github.com/fixline/fixline/internal/ticket"
	"gorm.io/gorm"
)

// services bundles the core domain services the commands share.
type services struct {
	tickets *ticket.Service
	stats   *analytics.Service
}

func buildServices(gdb *gorm.DB, limiter ratelimit.Limiter, notifier ticket.Notifier) (*services, error) {
	tickets, err := ticket.New(ticket.Opts{
		DB:       gdb,
		Limiter:  limiter,
		Notifier: notifier,
	})
	if err != nil {
		return nil, err
	}
	stats, err := analytics.New(analytics.Opts{DB: gdb})
	if err != nil {
		return nil, err
	}
	return &services{tickets: tickets, stats: stats}, nil
}
