package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/fixline/fixline/internal/analytics"
	"github.com/fixline/fixline/internal/config"
	"github.com/fixline/fixline/internal/intake"
	"github.com/fixline/fixline/internal/ratelimit"
	"github.com/fixline/fixline/internal/ticket"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// digestParser accepts standard 5-field cron expressions (minute, hour,
// day-of-month, month, day-of-week).
var digestParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Daemon is the main bot process. It connects to a chat platform via an
// Adapter, pumps inbound messages through the Router, runs the SLA sweeper,
// and fires the daily digest on its cron schedule.
type Daemon struct {
	db       *gorm.DB
	cfg      *config.Config
	adapter  Adapter
	tickets  *ticket.Service
	flow     *intake.Flow
	stats    *analytics.Service
	notifier *Notifier
	limiter  *ratelimit.Memory
	out      io.Writer
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	DB       *gorm.DB
	Config   *config.Config
	Adapter  Adapter
	Tickets  *ticket.Service
	Flow     *intake.Flow
	Stats    *analytics.Service
	Notifier *Notifier
	Limiter  *ratelimit.Memory // optional; pruned by the sweeper when set
	Out      io.Writer         // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: adapter is required")
	}
	if opts.Tickets == nil {
		return nil, fmt.Errorf("bot: ticket service is required")
	}
	if opts.Flow == nil {
		return nil, fmt.Errorf("bot: intake flow is required")
	}
	if opts.Stats == nil {
		return nil, fmt.Errorf("bot: analytics service is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("bot: notifier is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		db:       opts.DB,
		cfg:      opts.Config,
		adapter:  opts.Adapter,
		tickets:  opts.Tickets,
		flow:     opts.Flow,
		stats:    opts.Stats,
		notifier: opts.Notifier,
		limiter:  opts.Limiter,
		out:      out,
	}, nil
}

// Run starts the bot. It connects the adapter, builds the Router and
// Sweeper, and blocks until the context is cancelled. On shutdown it closes
// the adapter gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Fixline connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}

	// Extract bot user ID if the adapter supports it.
	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	cmdHandler, err := NewCommandHandler(CommandHandlerOpts{
		Tickets:      d.tickets,
		Stats:        d.stats,
		OverdueAfter: d.cfg.SLA.OverdueAfter.Std(),
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build command handler: %w", err)
	}

	router, err := NewRouter(RouterOpts{
		Flow:       d.flow,
		CmdHandler: cmdHandler,
		Tickets:    d.tickets,
		Adapter:    d.adapter,
		BotUserID:  botUserID,
		Out:        d.out,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}

	sweeper, err := NewSweeper(SweeperOpts{
		Tickets:      d.tickets,
		Flow:         d.flow,
		Limiter:      d.limiter,
		OverdueAfter: d.cfg.SLA.OverdueAfter.Std(),
		Interval:     d.cfg.SLA.SweepInterval.Std(),
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build sweeper: %w", err)
	}
	go sweeper.Run(ctx)

	go d.runDigestScheduler(ctx)

	fmt.Fprintf(d.out, "Fixline online\n")

	// Main event loop: pump inbound messages until context is cancelled.
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Fixline shutting down...\n")
			if err := d.adapter.Close(); err != nil {
				log.Printf("bot: close adapter: %v", err)
			}
			fmt.Fprintf(d.out, "Fixline stopped\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Fixline inbound channel closed\n")
				return nil
			}
			router.Handle(ctx, msg)
		}
	}
}

// runDigestScheduler fires the daily digest on its cron schedule. An
// unparsable expression disables the digest; it never fires immediately.
func (d *Daemon) runDigestScheduler(ctx context.Context) {
	expr := d.cfg.SLA.DigestCron
	if expr == "" {
		return
	}
	sched, err := digestParser.Parse(expr)
	if err != nil {
		log.Printf("bot: digest: bad cron expression %q: %v, digest disabled", expr, err)
		return
	}
	timer := time.NewTimer(time.Until(sched.Next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.fireDigest()
			timer.Reset(time.Until(sched.Next(time.Now())))
		}
	}
}

// fireDigest builds and sends the daily summary to admins. Suppressed when
// there are no requests at all.
func (d *Daemon) fireDigest() {
	sum, err := d.stats.Summarize(d.cfg.SLA.OverdueAfter.Std())
	if err != nil {
		log.Printf("bot: digest: %v", err)
		return
	}
	if sum.Total == 0 {
		return
	}
	d.notifier.Digest("Daily digest\n" + FormatSummary(sum))
}
