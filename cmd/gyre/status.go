package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/gyredev/gyre/internal/graph"
)

var (
	styleDone      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleAbandoned = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleActive    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleHeld      = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	styleReady     = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	styleHeader    = lipgloss.NewStyle().Bold(true).Underline(true)
	styleDim       = lipgloss.NewStyle().Faint(true)
)

func styleFor(s graph.Status) lipgloss.Style {
	switch s {
	case graph.StatusDone:
		return styleDone
	case graph.StatusFailed:
		return styleFailed
	case graph.StatusAbandoned:
		return styleAbandoned
	case graph.StatusInProgress:
		return styleActive
	case graph.StatusHeld:
		return styleHeld
	default:
		return lipgloss.NewStyle()
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler and graph state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Prefer the daemon's view; fall back to reading the graph directly
	// when no daemon is running.
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	st, err := controlClient(cfg).Status(ctx)
	cancel()
	if err == nil {
		state := "running"
		if st.Paused {
			state = styleHeld.Render("paused")
		}
		fmt.Printf("Scheduler %s: %d/%d agents busy, %d tasks, %d ready\n",
			state, st.AliveAgents, st.Concurrency, st.Tasks, len(st.Ready))
		keys := make([]string, 0, len(st.ByStatus))
		for k := range st.ByStatus {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s: %d\n", styleFor(graph.Status(k)).Render(k), st.ByStatus[k])
		}
	} else {
		fmt.Println(styleDim.Render("Scheduler not running (showing graph only)."))
	}

	gst, err := openStore(cfg)
	if err != nil {
		return err
	}
	g, err := gst.Snapshot(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Print(renderTaskTable(g))
	return nil
}

// renderTaskTable renders one line per task in graph order.
func renderTaskTable(g *graph.Graph) string {
	if g.Len() == 0 {
		return styleDim.Render("No tasks.") + "\n"
	}

	ready := make(map[string]bool)
	for _, id := range g.Ready(time.Now()) {
		ready[id] = true
	}

	var sb strings.Builder
	sb.WriteString(styleHeader.Render(fmt.Sprintf("%-20s %-12s %-6s %s", "ID", "STATUS", "ITER", "TITLE")))
	sb.WriteByte('\n')
	for _, t := range g.Tasks() {
		status := string(t.Status)
		switch {
		case ready[t.ID]:
			status = styleReady.Render("ready")
		case t.Paused:
			status = styleDim.Render(status + "*")
		default:
			status = styleFor(t.Status).Render(status)
		}
		iter := ""
		if t.LoopIteration > 0 {
			iter = fmt.Sprintf("%d", t.LoopIteration)
		}
		fmt.Fprintf(&sb, "%-20s %-12s %-6s %s\n", t.ID, status, iter, t.Title)
	}
	return sb.String()
}
