package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gyredev/gyre/internal/control"
	"github.com/gyredev/gyre/internal/coordinator"
	"github.com/gyredev/gyre/internal/dispatch"
	"github.com/gyredev/gyre/internal/events"
	"github.com/gyredev/gyre/internal/history"
	"github.com/gyredev/gyre/internal/triage"
	"github.com/gyredev/gyre/internal/workspace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduling daemon",
	Long: `Run the coordinator loop: watch the graph, probe worker liveness,
and dispatch ready tasks until interrupted. Detached workers survive a
daemon restart; they are rediscovered from the agent registry.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	ws, err := workspace.NewManager(cfg.Paths.RunDir)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	hist, err := history.NewSQLiteStore(ctx, cfg.Paths.History)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer hist.Close()

	d := dispatch.New(st, reg, ws, bus)

	var tr *triage.Triager
	if cfg.Triage.Enabled {
		tr = triage.New(st, reg, bus, nil, cfg.Triage.TimeoutDuration(), cfg.Triage.MaxRecoveries)
	}

	coord := coordinator.New(st, reg, d, tr, bus, cfg)

	// Surface graph anomalies before the first tick.
	if g, err := st.Snapshot(ctx); err == nil {
		for _, w := range g.Lint() {
			log.Printf("WARNING: %s", w)
		}
	}

	srv := control.NewServer(coord, cfg.Paths.Socket, func(killWorkers bool) {
		if killWorkers {
			if err := coord.TerminateWorkers(context.Background()); err != nil {
				log.Printf("WARNING: terminating workers: %v", err)
			}
		}
		cancel()
	})
	if err := srv.Start(); err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := srv.Stop(sctx); err != nil {
			log.Printf("WARNING: stopping control server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		history.NewRecorder(hist, bus).Run(ctx)
		return nil
	})
	eg.Go(func() error { return coord.Run(ctx) })
	eg.Go(func() error {
		select {
		case sig := <-sigCh:
			log.Printf("Received %s, shutting down (workers keep running)", sig)
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	// Periodic run-dir housekeeping.
	eg.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				ws.Prune(7 * 24 * time.Hour)
			}
		}
	})

	log.Printf("Scheduler running: graph=%s socket=%s concurrency=%d",
		cfg.Paths.Graph, cfg.Paths.Socket, cfg.Scheduler.Concurrency)

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
