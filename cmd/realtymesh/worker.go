package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mtzanidakis/realtymesh/internal/agent"
	"github.com/mtzanidakis/realtymesh/internal/config"
	"github.com/mtzanidakis/realtymesh/internal/llm"
	"github.com/mtzanidakis/realtymesh/internal/metrics"
	"github.com/mtzanidakis/realtymesh/internal/web"
)

var (
	workerRole string
	workerPort int
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a worker for one role",
	Long: `Start a worker serving POST /run for one role.

Built-in roles: ` + strings.Join(agent.RoleNames(), ", ") + `.
Without --port the port is taken from the role's URL in the coordinator
worker list, then from worker.port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runWorker(ctx)
	},
}

func init() {
	workerCmd.Flags().StringVar(&workerRole, "role", "", "Worker role (default worker.role from the config)")
	workerCmd.Flags().IntVar(&workerPort, "port", 0, "Listen port")
}

func runWorker(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	name := workerRole
	if name == "" {
		name = cfg.Worker.Role
	}
	if name == "" {
		return fmt.Errorf("no role given: use --role or set worker.role")
	}
	role, err := agent.LookupRole(name)
	if err != nil {
		return err
	}

	gen, err := newGenerator(cfg.LLM)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	logger := slog.Default()

	adapter := agent.NewAdapter(role, gen,
		agent.WithMetrics(m),
		agent.WithLogger(logger),
	)

	port := resolveWorkerPort(workerPort, role.Name, cfg)
	slog.Info("starting realtymesh worker", "version", version, "role", role.Name, "provider", gen.Name(), "port", port)

	srv := web.NewWorkerServer(adapter, port,
		web.WithSessionIdleTimeout(cfg.Worker.SessionIdleTimeout),
		web.WithWorkerGatherer(promReg),
		web.WithWorkerLogger(logger),
	)
	return srv.Start(ctx)
}

// newGenerator builds the configured provider. A missing Anthropic key is
// not fatal: the worker still answers, through its failure path.
func newGenerator(cfg config.LLMConfig) (llm.Generator, error) {
	gen, err := llm.New(cfg)
	if err == nil {
		return gen, nil
	}
	if (cfg.Provider == "" || cfg.Provider == "anthropic") && cfg.APIKey == "" {
		slog.Warn("no API key for the anthropic provider, generation disabled", "error", err)
		return llm.None{}, nil
	}
	return nil, fmt.Errorf("init llm provider: %w", err)
}

// resolveWorkerPort picks the listen port: the flag, then the port in the
// role's configured URL, then worker.port.
func resolveWorkerPort(flag int, role string, cfg *config.Config) int {
	if flag > 0 {
		return flag
	}
	for _, w := range cfg.Coordinator.Workers {
		if !strings.EqualFold(w.Role, role) {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(w.URL))
		if err != nil {
			break
		}
		if p, err := strconv.Atoi(u.Port()); err == nil && p > 0 {
			return p
		}
	}
	return cfg.Worker.Port
}
