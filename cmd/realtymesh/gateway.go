package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/mtzanidakis/realtymesh/internal/config"
	"github.com/mtzanidakis/realtymesh/internal/metrics"
	"github.com/mtzanidakis/realtymesh/internal/natsbus"
	"github.com/mtzanidakis/realtymesh/internal/registry"
	"github.com/mtzanidakis/realtymesh/internal/scheduler"
	"github.com/mtzanidakis/realtymesh/internal/store"
	"github.com/mtzanidakis/realtymesh/internal/swarm"
	"github.com/mtzanidakis/realtymesh/internal/telegram"
	"github.com/mtzanidakis/realtymesh/internal/transport"
	"github.com/mtzanidakis/realtymesh/internal/web"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the coordinator gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runGateway(ctx)
	},
}

func runGateway(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting realtymesh gateway", "version", version, "workers", len(cfg.Coordinator.Workers))

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	// SQLite run history
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS for run events
	var events *natsbus.Client
	if cfg.NATS.Enabled {
		bus, err := natsbus.New(cfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		defer bus.Close()

		events, err = natsbus.NewClient(bus)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer events.Close()
		if cfg.NATS.EventRetention > 0 {
			if err := events.EnsureEventStream(cfg.NATS.EventRetention); err != nil {
				slog.Warn("event replay log disabled", "error", err)
			}
		}
		slog.Info("nats started", "port", bus.Port(), "jetstream", bus.JetStream())
	}

	// Run history retention
	pruner, err := scheduler.New(db, events, cfg.Store)
	if err != nil {
		return fmt.Errorf("init pruner: %w", err)
	}
	go pruner.Start(ctx)

	reg := registry.New(cfg.Coordinator.Workers)
	tc := transport.New(
		transport.WithBackoff(cfg.Coordinator.RetryBackoff),
		transport.WithMetrics(m),
	)
	coord := swarm.NewCoordinator(reg, tc,
		swarm.WithStore(db),
		swarm.WithEvents(events),
		swarm.WithMetrics(m),
	)

	// Telegram bot
	var bot *telegram.Bot
	if cfg.Telegram.Token != "" {
		bot, err = telegram.NewBot(cfg.Telegram, coord)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		go func() {
			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram bot error", "error", err)
			}
		}()
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	// Hot reload of the worker fleet
	go func() {
		err := config.Watch(ctx, config.Path(), cfg, func(next *config.Config, d config.ConfigDiff) {
			if d.WorkersChangedAny() {
				reg.Replace(next.Coordinator.Workers)
				slog.Info("worker fleet reloaded",
					"added", d.WorkersAdded, "removed", d.WorkersRemoved, "changed", d.WorkersChanged)
			}
			if d.BackoffChanged {
				tc.SetBackoff(next.Coordinator.RetryBackoff)
				slog.Info("retry backoff reloaded", "backoff", next.Coordinator.RetryBackoff)
			}
			if d.AllowFromChanged && bot != nil {
				bot.SetAllowFrom(next.Telegram.AllowFrom)
				slog.Info("telegram allow list reloaded", "users", len(next.Telegram.AllowFrom))
			}
			if events != nil {
				_ = events.PublishEvent(natsbus.TopicEventsConfig, natsbus.NewEvent("config_reloaded", "", map[string]any{
					"roles": reg.Roles(),
				}))
			}
		})
		if err != nil {
			slog.Warn("config watcher disabled", "error", err)
		}
	}()

	srv := web.NewServer(coord, reg, cfg.Web,
		web.WithStore(db),
		web.WithEvents(events),
		web.WithGatherer(promReg),
		web.WithVersion(version),
	)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("web server: %w", err)
	}

	slog.Info("shutting down")
	if bot != nil {
		bot.Stop()
	}
	return nil
}
