package bot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fixline/fixline/internal/intake"
	"github.com/fixline/fixline/internal/ratelimit"
	"github.com/fixline/fixline/internal/ticket"
)

// Default sweep settings.
const (
	DefaultSweepInterval = time.Hour
	DefaultOverdueAfter  = 48 * time.Hour
)

// Sweeper periodically flags overdue high-priority requests and evicts
// idle state: expired intake drafts and quiet rate-limiter entries. Each
// request is alerted once; the alert marker is dropped when the request
// leaves the overdue set, so a reopened breach alerts again.
type Sweeper struct {
	tickets      *ticket.Service
	flow         *intake.Flow
	limiter      *ratelimit.Memory
	overdueAfter time.Duration
	interval     time.Duration

	mu      sync.Mutex
	alerted map[uint]bool
}

// SweeperOpts holds parameters for creating a Sweeper.
type SweeperOpts struct {
	Tickets      *ticket.Service
	Flow         *intake.Flow      // optional; enables draft pruning
	Limiter      *ratelimit.Memory // optional; enables limiter pruning
	OverdueAfter time.Duration     // optional; defaults to DefaultOverdueAfter
	Interval     time.Duration     // optional; defaults to DefaultSweepInterval
}

// NewSweeper creates a Sweeper.
func NewSweeper(opts SweeperOpts) (*Sweeper, error) {
	if opts.Tickets == nil {
		return nil, fmt.Errorf("bot: sweeper: ticket service is required")
	}
	overdue := opts.OverdueAfter
	if overdue <= 0 {
		overdue = DefaultOverdueAfter
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		tickets:      opts.Tickets,
		flow:         opts.Flow,
		limiter:      opts.Limiter,
		overdueAfter: overdue,
		interval:     interval,
		alerted:      make(map[uint]bool),
	}, nil
}

// Sweep runs one cycle and returns how many overdue alerts were sent.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	overdue, err := s.tickets.Overdue(s.overdueAfter)
	if err != nil {
		return 0, fmt.Errorf("bot: sweeper: %w", err)
	}

	s.mu.Lock()
	current := make(map[uint]bool, len(overdue))
	fresh := overdue[:0]
	for _, req := range overdue {
		current[req.ID] = true
		if !s.alerted[req.ID] {
			s.alerted[req.ID] = true
			fresh = append(fresh, req)
		}
	}
	for id := range s.alerted {
		if !current[id] {
			delete(s.alerted, id)
		}
	}
	s.mu.Unlock()

	s.tickets.NotifyOverdue(fresh)

	if s.flow != nil {
		s.flow.PruneExpired()
	}
	if s.limiter != nil {
		s.limiter.PruneEmpty()
	}
	return len(fresh), nil
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Printf("%v", err)
			}
		}
	}
}
