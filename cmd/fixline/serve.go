package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fixline/fixline/internal/bot"
	discordadapter "github.com/fixline/fixline/internal/bot/discord"
	slackadapter "github.com/fixline/fixline/internal/bot/slack"
	telegramadapter "github.com/fixline/fixline/internal/bot/telegram"
	"github.com/fixline/fixline/internal/config"
	"github.com/fixline/fixline/internal/db"
	"github.com/fixline/fixline/internal/intake"
	"github.com/fixline/fixline/internal/ratelimit"
	"github.com/fixline/fixline/internal/ticket"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Fixline bot",
		Long:  "Connects to the configured chat platform, takes requests, and runs the SLA sweeper and daily digest.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Fixline config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	gdb, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}
	if err := db.SeedAdmins(gdb, cfg.Bot.AdminIDs); err != nil {
		return err
	}

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	limiter, err := ratelimit.NewMemory(ratelimit.Opts{
		Rules: map[string]ratelimit.Rule{
			ticket.ActionCreateRequest: {Max: cfg.Limits.CreateRequests, Window: cfg.Limits.CreateWindow.Std()},
			ticket.ActionAddComment:    {Max: cfg.Limits.AddComments, Window: cfg.Limits.CommentWindow.Std()},
		},
	})
	if err != nil {
		return err
	}

	notifier, err := bot.NewNotifier(bot.NotifierOpts{
		DB:      gdb,
		Adapter: adapter,
		Channel: cfg.Bot.Channel,
	})
	if err != nil {
		return err
	}

	svcs, err := buildServices(gdb, limiter, notifier)
	if err != nil {
		return err
	}

	flow, err := intake.New(intake.Opts{
		Tickets: svcs.tickets,
		TTL:     cfg.Intake.DraftTTL.Std(),
	})
	if err != nil {
		return err
	}

	daemon, err := bot.NewDaemon(bot.DaemonOpts{
		DB:       gdb,
		Config:   cfg,
		Adapter:  adapter,
		Tickets:  svcs.tickets,
		Flow:     flow,
		Stats:    svcs.stats,
		Notifier: notifier,
		Limiter:  limiter,
		Out:      cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (bot.Adapter, error) {
	switch cfg.Bot.Platform {
	case "telegram":
		return telegramadapter.New(telegramadapter.AdapterOpts{
			Token: cfg.Bot.Token,
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: cfg.Bot.Token,
		})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.Bot.AppToken,
			BotToken: cfg.Bot.Token,
		})
	default:
		return nil, fmt.Errorf("serve: unsupported platform %q", cfg.Bot.Platform)
	}
}
