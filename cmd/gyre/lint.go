package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Report graph anomalies",
	Long: `Check the graph for dangling blockers, malformed timestamps,
forward-edge cycles, and suspicious loop edges. Anomalies are warnings:
the scheduler fails open on all of them, but they usually indicate a
typo in a task id or timestamp.`,
	RunE: runLint,
}

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the longest dependency chain",
	RunE:  runPath,
}

func init() {
	rootCmd.AddCommand(lintCmd, pathCmd)
}

func runLint(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	g, err := st.Snapshot(cmd.Context())
	if err != nil {
		return err
	}

	warnings := g.Lint()
	if len(warnings) == 0 {
		fmt.Printf("%d tasks, no anomalies\n", g.Len())
		return nil
	}
	for _, w := range warnings {
		fmt.Printf("%s\n", w)
	}
	return fmt.Errorf("%d anomalies", len(warnings))
}

func runPath(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	g, err := st.Snapshot(cmd.Context())
	if err != nil {
		return err
	}

	path := g.CriticalPath()
	if len(path) == 0 {
		fmt.Println("No tasks.")
		return nil
	}
	fmt.Printf("%d tasks on the longest chain:\n  %s\n", len(path), strings.Join(path, " -> "))
	return nil
}
