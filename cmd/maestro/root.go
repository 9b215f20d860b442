package main

import (
	"fmt"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/maestro/internal/config"
	"github.com/ShayCichocki/maestro/internal/oracle"
	"github.com/ShayCichocki/maestro/internal/orchestrator"
	"github.com/ShayCichocki/maestro/internal/progress"
	"github.com/ShayCichocki/maestro/internal/supervisor"
	"github.com/ShayCichocki/maestro/internal/taskctx"
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Hierarchical task decomposition and execution engine",
	Long: `Maestro breaks a request into a tree of tasks, executes the leaves in
dependency order, and synthesizes the results into a single answer.

Each request is assessed first and routed to the cheapest strategy that
fits: trivial requests are delegated back to the caller, simple ones run
as a single task, medium ones as a flat workflow, and complex ones through
full recursive decomposition.

Progress is observable live over a server-sent-events stream, and the
current state of any session can be inspected while it runs.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

// appStack bundles the wired collaborators behind every command.
type appStack struct {
	cfg    *config.Config
	bus    *progress.Bus
	store  *taskctx.Store
	oracle *oracle.Client
	sup    *supervisor.Supervisor
	logger *orchestrator.DebugLogger
}

// buildStack loads configuration and wires the oracle, bus, store, and
// supervisor together.
func buildStack() (*appStack, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := orchestrator.NewDebugLogger(cfg.Debug.LogPath)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}
	orchestrator.SetPackageLogger(logger)

	apiKey := cfg.Anthropic.APIKey
	if !cfg.Anthropic.UseBedrock {
		apiKey, err = config.GetAPIKey(cfg)
		if err != nil {
			return nil, err
		}
	}

	client, err := oracle.NewClient(oracle.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        apiKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, fmt.Errorf("create oracle client: %w", err)
	}

	bus := progress.NewBus()
	store := taskctx.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)

	sup := supervisor.New(supervisor.Config{
		Oracle:    client,
		Publisher: bus,
		Store:     store,
		Orchestrator: orchestrator.Config{
			MaxNestingLevel:      cfg.Limits.MaxNestingLevel,
			MaxSubtasksPerTask:   cfg.Limits.MaxSubtasksPerTask,
			MaxRefinementsPerRun: cfg.Limits.MaxRefinementsPerRun,
		},
		MaxStrategy: supervisor.Strategy(cfg.Supervisor.MaxStrategy),
	})

	return &appStack{
		cfg:    cfg,
		bus:    bus,
		store:  store,
		oracle: client,
		sup:    sup,
		logger: logger,
	}, nil
}

func (a *appStack) close() {
	a.store.Stop()
	if a.logger != nil {
		a.logger.Close()
	}
}
