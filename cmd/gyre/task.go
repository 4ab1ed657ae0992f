package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gyredev/gyre/internal/graph"
	"github.com/gyredev/gyre/internal/store"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Create and manage tasks",
}

var (
	addTitle       string
	addDesc        string
	addBlockedBy   []string
	addInputs      []string
	addNotBefore   string
	addBackend     string
	loopTarget     string
	loopMax        int
	loopGuardTask  string
	loopGuardState string
	loopIterLT     int
	loopDelay      string
)

var taskAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Add a task to the graph",
	Long: `Add a task. Dependencies are forward edges (--blocked-by); a loop
edge (--loops-to) points backward at an upstream task and re-opens it
when this task completes, subject to its guard and iteration cap.`,
	Args: cobra.ExactArgs(1),
	RunE: runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks with status and readiness",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one task in full",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

func init() {
	taskAddCmd.Flags().StringVar(&addTitle, "title", "", "task title")
	taskAddCmd.Flags().StringVar(&addDesc, "desc", "", "task description")
	taskAddCmd.Flags().StringSliceVar(&addBlockedBy, "blocked-by", nil, "task ids this task waits for")
	taskAddCmd.Flags().StringSliceVar(&addInputs, "input", nil, "input references passed to the worker")
	taskAddCmd.Flags().StringVar(&addNotBefore, "not-before", "", "RFC3339 time before which the task is not ready")
	taskAddCmd.Flags().StringVar(&addBackend, "backend", "", "preferred backend kind for this task")
	taskAddCmd.Flags().StringVar(&loopTarget, "loops-to", "", "upstream task to re-open when this task completes")
	taskAddCmd.Flags().IntVar(&loopMax, "loop-max", 3, "max loop iterations")
	taskAddCmd.Flags().StringVar(&loopGuardTask, "loop-guard-task", "", "guard: fire only if this task...")
	taskAddCmd.Flags().StringVar(&loopGuardState, "loop-guard-status", "", "...has this status")
	taskAddCmd.Flags().IntVar(&loopIterLT, "loop-guard-iter-lt", 0, "guard: fire only while target iteration is below N")
	taskAddCmd.Flags().StringVar(&loopDelay, "loop-delay", "", "delay before the re-opened target is ready, e.g. 30s")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd)
	rootCmd.AddCommand(taskCmd)
}

func buildLoopEdge() (*graph.LoopEdge, error) {
	if loopTarget == "" {
		if loopGuardTask != "" || loopGuardState != "" || loopIterLT > 0 || loopDelay != "" {
			return nil, fmt.Errorf("loop guard flags require --loops-to")
		}
		return nil, nil
	}

	edge := &graph.LoopEdge{
		Target:        loopTarget,
		MaxIterations: loopMax,
		Delay:         loopDelay,
		Guard:         graph.Guard{Type: graph.GuardAlways},
	}
	switch {
	case loopGuardTask != "" && loopGuardState != "":
		edge.Guard = graph.Guard{
			Type:   graph.GuardTaskStatus,
			Task:   loopGuardTask,
			Status: graph.Status(loopGuardState),
		}
	case loopIterLT > 0:
		edge.Guard = graph.Guard{Type: graph.GuardIterationLT, Threshold: loopIterLT}
	case loopGuardTask != "" || loopGuardState != "":
		return nil, fmt.Errorf("--loop-guard-task and --loop-guard-status go together")
	}
	return edge, nil
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}

	task := &graph.Task{
		ID:          args[0],
		Title:       addTitle,
		Description: addDesc,
		Status:      graph.StatusOpen,
		BlockedBy:   addBlockedBy,
		Inputs:      addInputs,
		NotBefore:   addNotBefore,
		Assigned:    addBackend,
	}
	if task.Title == "" {
		task.Title = task.ID
	}
	edge, err := buildLoopEdge()
	if err != nil {
		return err
	}
	if edge != nil {
		task.LoopsTo = []graph.LoopEdge{*edge}
	}

	if err := st.Create(cmd.Context(), task); err != nil {
		return err
	}

	// Warn about anomalies the new task introduces, without blocking.
	if g, err := st.Snapshot(cmd.Context()); err == nil {
		for _, w := range g.Lint() {
			if w.TaskID == task.ID {
				fmt.Printf("warning: %s\n", w)
			}
		}
	}

	wakeDaemon(cfg)
	fmt.Printf("Added %s\n", task.ID)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
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

	fmt.Print(renderTaskTable(g))
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
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
	task, ok := g.Get(args[0])
	if !ok {
		return store.ErrTaskNotFound
	}

	fmt.Printf("%s: %s\n", task.ID, task.Title)
	fmt.Printf("  status: %s", task.Status)
	if task.Paused {
		fmt.Print(" (paused)")
	}
	fmt.Println()
	if task.Description != "" {
		fmt.Printf("  description: %s\n", task.Description)
	}
	if len(task.BlockedBy) > 0 {
		fmt.Printf("  blocked by: %s\n", strings.Join(task.BlockedBy, ", "))
	}
	if len(task.Blocks) > 0 {
		fmt.Printf("  blocks: %s\n", strings.Join(task.Blocks, ", "))
	}
	for _, edge := range task.LoopsTo {
		fmt.Printf("  loops to: %s (guard %s, max %d)\n", edge.Target, edge.Guard.Type, edge.MaxIterations)
	}
	if task.LoopIteration > 0 {
		fmt.Printf("  iteration: %d\n", task.LoopIteration)
	}
	if task.Assigned != "" {
		fmt.Printf("  assigned: %s\n", task.Assigned)
	}
	if task.NotBefore != "" {
		fmt.Printf("  not before: %s\n", task.NotBefore)
	}
	if task.ReadyAfter != "" {
		fmt.Printf("  ready after: %s\n", task.ReadyAfter)
	}
	if task.Deliverables != "" {
		fmt.Printf("  deliverables: %s\n", task.Deliverables)
	}
	for _, line := range task.Log {
		fmt.Printf("  %s\n", line)
	}
	return nil
}
