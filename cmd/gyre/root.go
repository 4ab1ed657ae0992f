package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyredev/gyre/internal/config"
	"github.com/gyredev/gyre/internal/control"
	"github.com/gyredev/gyre/internal/registry"
	"github.com/gyredev/gyre/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "gyre",
	Short: "Task-graph scheduler for detached coding agents",
	Long: `Gyre coordinates a graph of tasks with dependencies and feedback
loops, dispatching each ready task to a detached worker process.

Tasks live in a line-oriented graph file that workers and operators
edit through idempotent commands; the daemon ('gyre serve') watches the
graph, probes worker liveness, and keeps dispatching until every task
is terminal.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadDefault()
}

func openStore(cfg *config.Config) (*store.GraphStore, error) {
	return store.NewGraphStore(cfg.Paths.Graph)
}

func openRegistry(cfg *config.Config) (*registry.Registry, error) {
	return registry.New(cfg.Paths.Registry)
}

func controlClient(cfg *config.Config) *control.Client {
	return control.NewClient(cfg.Paths.Socket)
}

// wakeDaemon nudges a running daemon after a direct graph edit. Nothing
// listening is fine; the poll timer covers it.
func wakeDaemon(cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = controlClient(cfg).Wake(ctx)
}
