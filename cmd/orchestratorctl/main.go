// Package main provides the orchestratorctl CLI: a command-line front end
// for running a Team plan, starting an Office loop, or opening a Panel
// discussion against a configured LLM backend. Grounded on
// cmd/nexus/main.go for the buildRootCmd/cobra subcommand-tree shape and
// JSON-structured slog setup; trimmed of the reference implementation's channel-gateway,
// plugin, and profile-management commands, which this system has no
// component for.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/deskpilot/orchestrator/internal/circuit"
	"github.com/deskpilot/orchestrator/internal/concurrency"
	"github.com/deskpilot/orchestrator/internal/eventbus"
	"github.com/deskpilot/orchestrator/internal/executor"
	"github.com/deskpilot/orchestrator/internal/llm"
	"github.com/deskpilot/orchestrator/internal/metrics"
	"github.com/deskpilot/orchestrator/internal/office"
	"github.com/deskpilot/orchestrator/internal/panel"
	"github.com/deskpilot/orchestrator/internal/settings"
	"github.com/deskpilot/orchestrator/internal/team"
	"github.com/deskpilot/orchestrator/internal/telemetry"
	"github.com/deskpilot/orchestrator/internal/tools"
	"github.com/deskpilot/orchestrator/internal/workspace"
	"github.com/deskpilot/orchestrator/pkg/orch"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "orchestratorctl",
		Short:        "Run Team, Office, and Panel sessions against a configured LLM backend",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML settings file (optional; defaults apply otherwise)")
	root.AddCommand(buildTeamCmd(), buildOfficeCmd(), buildPanelCmd())
	return root
}

// runtime bundles the process-wide collaborators every subcommand needs:
// a loaded config, a live provider registry, and whatever observability
// plumbing the config asked for. Callers must call shutdown on exit.
type runtime struct {
	cfg      settings.Config
	registry *llm.Registry
	logger   *slog.Logger
	shutdown func(context.Context)
}

func setupRuntime(ctx context.Context, component string) (*runtime, error) {
	cfg, err := settings.Load(configPath)
	if err != nil {
		return nil, err
	}

	registry, err := settings.BuildRegistry(ctx, cfg.Providers)
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("component", component)

	var shutdowns []func(context.Context)

	if cfg.Telemetry.OTLPEndpoint != "" {
		tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("orchestratorctl: telemetry: %w", err)
		}
		shutdowns = append(shutdowns, func(ctx context.Context) { _ = tp.Shutdown(ctx) })
	}

	if cfg.Telemetry.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: cfg.Telemetry.MetricsListen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		shutdowns = append(shutdowns, func(ctx context.Context) { _ = srv.Shutdown(ctx) })
	}

	return &runtime{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		shutdown: func(ctx context.Context) {
			for _, fn := range shutdowns {
				fn(ctx)
			}
		},
	}, nil
}

// pollSemaphoreStats periodically records statsFn's result into pool's
// semaphore gauges until ctx is cancelled, since
// internal/concurrency.Semaphore has no state-change hook to push from.
func pollSemaphoreStats(ctx context.Context, interval time.Duration, pool string, statsFn func() concurrency.SemaphoreStats) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ObserveSemaphore(pool, statsFn())
		}
	}
}

// printEvents drains sink's channel to stdout as newline-delimited JSON
// until ctx is cancelled.
func printEvents(ctx context.Context, sink *eventbus.ChanSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sink.Events():
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintln(os.Stdout, string(b))
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func buildTeamCmd() *cobra.Command {
	var repoRoot string
	cmd := &cobra.Command{
		Use:   "team <prompt>",
		Short: "Run a one-shot Team session: clarify, plan, execute, synthesise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := setupRuntime(ctx, "team")
			if err != nil {
				return err
			}
			defer rt.shutdown(context.Background())

			catalogue := llm.DefaultCatalogue()

			toolRegistry := executor.NewRegistry()
			if err := tools.Register(toolRegistry); err != nil {
				return fmt.Errorf("orchestratorctl: registering tools: %w", err)
			}
			breakers := circuit.NewRegistry(circuit.Config{
				OnStateChange: metrics.CircuitStateChangeHandler("team-tools"),
			})
			toolExecutor := executor.New(toolRegistry, breakers)

			brain := team.NewLLMBrain(catalogue, rt.registry, rt.cfg.Pricing, toolExecutor)
			provisioner := workspace.New(repoRoot)
			orchestrator := team.New(rt.cfg.Team, brain, provisioner, rt.logger)

			sink := eventbus.NewChanSink(256)
			orchestrator.Events().Subscribe(sink)
			go printEvents(ctx, sink)
			go pollSemaphoreStats(ctx, rt.cfg.Telemetry.PollInterval, "team_dag", orchestrator.Scheduler().SemaphoreStats)

			sessionID, err := orchestrator.Start(ctx, args[0])
			if err != nil {
				return err
			}
			rt.logger.Info("session started", "session_id", sessionID)

			report, err := orchestrator.ApprovePlan(ctx)
			if err != nil {
				return err
			}

			out, _ := json.MarshalIndent(report, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&repoRoot, "repo", ".", "repository root used for git-worktree and file-locking workspace strategies")
	return cmd
}

func buildOfficeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "office <objective>",
		Short: "Start a long-running Office iteration loop until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := setupRuntime(ctx, "office")
			if err != nil {
				return err
			}
			defer rt.shutdown(context.Background())

			catalogue := llm.DefaultCatalogue()
			brain := office.NewLLMBrain(catalogue, rt.registry, rt.cfg.Pricing)
			manager := office.New(rt.cfg.Office, brain, rt.logger)

			sink := eventbus.NewChanSink(256)
			manager.Events().Subscribe(sink)
			go printEvents(ctx, sink)
			go pollSemaphoreStats(ctx, rt.cfg.Telemetry.PollInterval, "office_assistants", manager.SemaphoreStats)

			_, err = manager.Start(ctx, args[0])
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	return cmd
}

func buildPanelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "panel <question>",
		Short: "Open a Panel discussion and print the synthesised answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := setupRuntime(ctx, "panel")
			if err != nil {
				return err
			}
			defer rt.shutdown(context.Background())

			catalogue := llm.DefaultCatalogue()
			brain := panel.NewLLMBrain(catalogue, rt.registry)
			panelistCfg, _ := catalogue.For(orch.RolePanelist)
			panelists := panel.PanelistsForPreset(rt.cfg.Panel.PanelistPreset)
			engine := panel.New(rt.cfg.Panel, orch.DefaultGuardRails(), panelists, rt.cfg.Pricing, panelistCfg.Provider, panelistCfg.Model, brain, rt.logger)

			sink := eventbus.NewChanSink(256)
			engine.Events().Subscribe(sink)
			go printEvents(ctx, sink)

			sessionID, err := engine.Start(ctx, args[0])
			if err != nil {
				return err
			}
			rt.logger.Info("discussion started", "session_id", sessionID)

			synthesis, brief, err := engine.ApprovePlan(ctx)
			if err != nil {
				return err
			}

			out, _ := json.MarshalIndent(struct {
				Synthesis *orch.SynthesisResult `json:"synthesis"`
				Brief     *orch.KnowledgeBrief   `json:"brief"`
			}{synthesis, brief}, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	return cmd
}

