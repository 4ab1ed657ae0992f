package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyredev/gyre/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [task-id]",
	Short: "Show the scheduler's audit trail",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "max entries without a task filter")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	h, err := history.NewSQLiteStore(cmd.Context(), cfg.Paths.History)
	if err != nil {
		return err
	}
	defer h.Close()

	var entries []history.Entry
	if len(args) == 1 {
		entries, err = h.ForTask(cmd.Context(), args[0])
	} else {
		entries, err = h.Recent(cmd.Context(), historyLimit)
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No history.")
		return nil
	}

	for _, e := range entries {
		line := fmt.Sprintf("%s  %-20s", e.OccurredAt.Local().Format(time.DateTime), e.Type)
		if e.Task != "" {
			line += "  " + e.Task
		}
		if e.Agent != "" {
			line += "  agent=" + e.Agent
		}
		fmt.Println(line)
	}
	return nil
}
