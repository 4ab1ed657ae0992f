package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyredev/gyre/internal/registry"
)

var (
	killForce    bool
	spawnBackend string
	spawnModel   string
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List worker processes",
	RunE:  runAgents,
}

var killCmd = &cobra.Command{
	Use:   "kill <agent-id>",
	Short: "Terminate a worker (graceful, then forced)",
	Args:  cobra.ExactArgs(1),
	RunE:  runKill,
}

var spawnCmd = &cobra.Command{
	Use:   "spawn <task-id>",
	Short: "Dispatch one task immediately, bypassing the scheduler",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpawn,
}

func init() {
	killCmd.Flags().BoolVar(&killForce, "force", false, "skip SIGTERM, kill immediately")
	spawnCmd.Flags().StringVar(&spawnBackend, "backend", "", "backend to use (default from config)")
	spawnCmd.Flags().StringVar(&spawnModel, "model", "", "model override")
	rootCmd.AddCommand(agentsCmd, killCmd, spawnCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	agents, err := controlClient(cfg).Agents(cmd.Context())
	if err != nil {
		// No daemon: show the registry as persisted.
		reg, rerr := openRegistry(cfg)
		if rerr != nil {
			return err
		}
		agents, rerr = reg.Snapshot(cmd.Context())
		if rerr != nil {
			return err
		}
		fmt.Println(styleDim.Render("Scheduler not running (showing persisted registry)."))
	}

	if len(agents) == 0 {
		fmt.Println("No agents.")
		return nil
	}
	fmt.Println(styleHeader.Render(fmt.Sprintf("%-38s %-8s %-12s %-8s %s", "ID", "PID", "TASK", "STATE", "STARTED")))
	for _, a := range agents {
		state := string(a.State)
		if a.Retired() {
			state = styleAbandoned.Render("retired")
		} else if a.State == registry.StateDead {
			state = styleFailed.Render(state)
		} else if a.State == registry.StateAlive {
			state = styleDone.Render(state)
		}
		fmt.Printf("%-38s %-8d %-12s %-8s %s\n",
			a.ID, a.PID, a.Task, state, a.StartedAt.Local().Format(time.Stamp))
	}
	return nil
}

func runKill(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := controlClient(cfg).Kill(cmd.Context(), args[0], killForce); err != nil {
		return err
	}
	fmt.Printf("Killed %s\n", args[0])
	return nil
}

func runSpawn(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	agent, err := controlClient(cfg).Spawn(cmd.Context(), args[0], spawnBackend, spawnModel)
	if err != nil {
		return err
	}
	fmt.Printf("Spawned %s for %s (pid %d)\n", agent.ID, agent.Task, agent.PID)
	return nil
}
