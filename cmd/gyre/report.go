package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gyredev/gyre/internal/graph"
	"github.com/gyredev/gyre/internal/store"
)

// Lifecycle commands are idempotent by design: workers, wrapper shells,
// and operators may all report the same outcome and only the first
// write takes effect.

var (
	doneDeliverables string
	doneConverged    bool
	outcomeNote      string
	reportTask       string
	reportAgent      string
	reportExit       int
)

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task done and fire its loop edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return completeTask(cmd, args[0], graph.StatusDone)
	},
}

var failCmd = &cobra.Command{
	Use:   "fail <id>",
	Short: "Mark a task failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return completeTask(cmd, args[0], graph.StatusFailed)
	},
}

var abandonCmd = &cobra.Command{
	Use:   "abandon <id>",
	Short: "Mark a task abandoned",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return completeTask(cmd, args[0], graph.StatusAbandoned)
	},
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <id>",
	Short: "Reopen a terminal task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, args[0], func(s *store.GraphStore) error {
			return s.Reopen(cmd.Context(), args[0], outcomeNote)
		})
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Pause a task (kept in the graph, never ready)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, args[0], func(s *store.GraphStore) error {
			return s.SetPaused(cmd.Context(), args[0], true)
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, args[0], func(s *store.GraphStore) error {
			return s.SetPaused(cmd.Context(), args[0], false)
		})
	},
}

var holdCmd = &cobra.Command{
	Use:   "hold <id>",
	Short: "Hold an open task for manual decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, args[0], func(s *store.GraphStore) error {
			return s.Hold(cmd.Context(), args[0])
		})
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <id>",
	Short: "Release a held task back to open",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, args[0], func(s *store.GraphStore) error {
			return s.Release(cmd.Context(), args[0])
		})
	},
}

var logCmd = &cobra.Command{
	Use:   "log <id> <text>",
	Short: "Append a log line to a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, args[0], func(s *store.GraphStore) error {
			return s.AppendLog(cmd.Context(), args[0], args[1])
		})
	},
}

// reportCmd is the wrapper-shell fallback: it records the worker's exit
// code iff the worker did not already record a terminal status itself.
var reportCmd = &cobra.Command{
	Use:    "report",
	Short:  "Report a worker's exit code (used by the dispatch wrapper)",
	Hidden: true,
	RunE:   runReport,
}

func init() {
	doneCmd.Flags().StringVar(&doneDeliverables, "deliverables", "", "what was produced")
	doneCmd.Flags().BoolVar(&doneConverged, "converged", false, "suppress loop edges: the cycle has settled")
	for _, c := range []*cobra.Command{doneCmd, failCmd, abandonCmd, reopenCmd} {
		c.Flags().StringVar(&outcomeNote, "note", "", "note appended to the task log")
	}

	reportCmd.Flags().StringVar(&reportTask, "task", "", "task id")
	reportCmd.Flags().StringVar(&reportAgent, "agent", "", "agent id")
	reportCmd.Flags().IntVar(&reportExit, "exit", 0, "worker exit code")
	reportCmd.MarkFlagRequired("task")

	rootCmd.AddCommand(doneCmd, failCmd, abandonCmd, reopenCmd,
		pauseCmd, resumeCmd, holdCmd, releaseCmd, logCmd, reportCmd)
}

func withStore(cmd *cobra.Command, id string, fn func(*store.GraphStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	wakeDaemon(cfg)
	return nil
}

func completeTask(cmd *cobra.Command, id string, status graph.Status) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	firings, err := st.Complete(cmd.Context(), id, status, store.CompleteOptions{
		Deliverables:  doneDeliverables,
		Note:          outcomeNote,
		Converged:     doneConverged,
		LoopOnFailure: cfg.Scheduler.LoopOnFailure,
	})
	if err != nil {
		return err
	}
	for _, f := range firings {
		fmt.Printf("loop fired: %s -> %s (iteration %d, reopened %d tasks)\n",
			f.Source, f.Target, f.Iteration, len(f.Reopened))
	}

	wakeDaemon(cfg)
	fmt.Printf("%s is %s\n", id, status)
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	status := graph.StatusDone
	note := "worker exited cleanly"
	if reportExit != 0 {
		status = graph.StatusFailed
		note = fmt.Sprintf("worker exited with code %d", reportExit)
	}
	if reportAgent != "" {
		note = fmt.Sprintf("%s (agent %s)", note, reportAgent)
	}

	// Complete is a no-op on already-terminal tasks, so a worker that
	// reported for itself is not overridden by the wrapper.
	if _, err := st.Complete(cmd.Context(), reportTask, status, store.CompleteOptions{
		Note:          note,
		LoopOnFailure: cfg.Scheduler.LoopOnFailure,
	}); err != nil {
		return err
	}
	wakeDaemon(cfg)
	return nil
}
