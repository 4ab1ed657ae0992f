package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gyredev/gyre/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a project for scheduling",
	Long:  `Create the .gyre directory with a default config and an empty graph.`,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()

	configPath := filepath.Join(config.StateDir, "config.json")
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists", configPath)
	}
	if err := config.Save(cfg, configPath); err != nil {
		return err
	}

	// Touch the graph file so lint/status work before the first task.
	if _, err := openStore(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Paths.RunDir, 0755); err != nil {
		return err
	}

	fmt.Printf("Initialized %s\n", config.StateDir)
	fmt.Printf("  config: %s\n", configPath)
	fmt.Printf("  graph:  %s\n", cfg.Paths.Graph)
	fmt.Println("Add tasks with 'gyre task add', then run 'gyre serve'.")
	return nil
}
