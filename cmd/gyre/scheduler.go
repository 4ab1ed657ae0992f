package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gyredev/gyre/internal/config"
	"github.com/gyredev/gyre/internal/control"
)

var (
	reconfConcurrency int
	reconfPoll        string
	reconfBackend     string
	reconfModel       string
	reconfSave        bool
	shutdownKill      bool
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Control the running scheduler",
}

var schedWakeCmd = &cobra.Command{
	Use:   "wake",
	Short: "Trigger an immediate scheduling tick",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return controlClient(cfg).Wake(cmd.Context())
	},
}

var schedPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause dispatching (liveness probing continues)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := controlClient(cfg).Pause(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Scheduler paused")
		return nil
	},
}

var schedResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume dispatching",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := controlClient(cfg).Resume(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Scheduler resumed")
		return nil
	},
}

var schedReconfigureCmd = &cobra.Command{
	Use:   "reconfigure",
	Short: "Adjust scheduler settings at runtime",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		req := control.ReconfigureRequest{
			Concurrency:    reconfConcurrency,
			PollInterval:   reconfPoll,
			DefaultBackend: reconfBackend,
			DefaultModel:   reconfModel,
		}
		if err := controlClient(cfg).Reconfigure(cmd.Context(), req); err != nil {
			return err
		}
		if reconfSave {
			if err := saveReconfigured(cfg, req); err != nil {
				return fmt.Errorf("settings applied but not saved: %w", err)
			}
		}
		fmt.Println("Reconfigured")
		return nil
	},
}

// saveReconfigured writes the adjusted settings back to the project
// config so they survive a daemon restart.
func saveReconfigured(cfg *config.Config, req control.ReconfigureRequest) error {
	if req.Concurrency > 0 {
		cfg.Scheduler.Concurrency = req.Concurrency
	}
	if req.PollInterval != "" {
		cfg.Scheduler.PollInterval = req.PollInterval
	}
	if req.DefaultBackend != "" {
		cfg.Scheduler.DefaultBackend = req.DefaultBackend
	}
	if req.DefaultModel != "" {
		cfg.Scheduler.DefaultModel = req.DefaultModel
	}
	return config.Save(cfg, filepath.Join(config.StateDir, "config.json"))
}

var schedShutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the scheduler",
	Long: `Stop the scheduler daemon. By default detached workers keep
running and are rediscovered on the next 'gyre serve'; --kill-workers
terminates them too.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := controlClient(cfg).Shutdown(cmd.Context(), shutdownKill); err != nil {
			return err
		}
		fmt.Println("Shutdown requested")
		return nil
	},
}

func init() {
	schedReconfigureCmd.Flags().IntVar(&reconfConcurrency, "concurrency", 0, "max simultaneous workers")
	schedReconfigureCmd.Flags().StringVar(&reconfPoll, "poll-interval", "", "safety-net tick cadence, e.g. 15s")
	schedReconfigureCmd.Flags().StringVar(&reconfBackend, "default-backend", "", "default backend kind")
	schedReconfigureCmd.Flags().StringVar(&reconfModel, "default-model", "", "default model")
	schedReconfigureCmd.Flags().BoolVar(&reconfSave, "save", false, "persist the new settings to the project config")
	schedShutdownCmd.Flags().BoolVar(&shutdownKill, "kill-workers", false, "terminate live workers too")

	schedulerCmd.AddCommand(schedWakeCmd, schedPauseCmd, schedResumeCmd, schedReconfigureCmd, schedShutdownCmd)
	rootCmd.AddCommand(schedulerCmd)
}
