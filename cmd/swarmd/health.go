package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/swarmd/internal/health"
	"github.com/fyrsmithlabs/swarmd/internal/liveness"
	"github.com/fyrsmithlabs/swarmd/internal/statestore"
)

var healthJSON bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe the swarm's dependencies and print a health snapshot",
	RunE:  runHealth,
}

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "List worker liveness from heartbeat records",
	RunE:  runWorkers,
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the swarm: the self-heal loop skips probes until resumed",
	RunE:  runSetPaused(true),
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused swarm",
	RunE:  runSetPaused(false),
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "emit the raw snapshot as JSON")
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	tc, err := dialTemporal(cfg)
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer tc.Close()

	supervisor := health.NewSupervisor(store,
		health.NewTemporalProbe(tc, cfg.Temporal.Namespace),
		cfg.SelfHeal.CLICommand, log)
	snap := supervisor.Check(cmd.Context())

	if healthJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	fmt.Printf("Overall: %s", snap.Overall)
	if snap.Paused {
		fmt.Print(" (paused)")
	}
	fmt.Printf("\nOpen runs: %d, stuck: %d\n", snap.OpenRuns, snap.StuckRuns)
	for _, dep := range snap.Dependencies {
		fmt.Printf("  %-15s %s", dep.Name, dep.Status)
		if dep.Detail != "" {
			fmt.Printf("  %s", dep.Detail)
		}
		fmt.Println()
	}
	for _, action := range snap.ActionsTaken {
		fmt.Printf("  ! %s\n", action)
	}
	if snap.Escalate {
		fmt.Println("Escalation required.")
	}
	return nil
}

func runWorkers(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	registry := liveness.NewRegistry(store, nil, cfg.Workers.Count, log)
	records, err := registry.GetAllWorkerHealth(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WORKER\tSTATUS\tTASK\tPROVIDER\tLAST SEEN")
	for _, hb := range records {
		last := "-"
		if !hb.PublishedAt.IsZero() {
			last = time.Since(hb.PublishedAt).Round(time.Second).String() + " ago"
		}
		task := hb.CurrentTaskID
		if task == "" {
			task = "-"
		}
		provider := hb.Provider
		if provider == "" {
			provider = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", hb.WorkerID, hb.Status, task, provider, last)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	s := registry.Summarize(records)
	fmt.Printf("\n%d healthy, %d degraded, %d offline\n", s.Healthy, s.Degraded, s.Offline)
	return nil
}

func runSetPaused(paused bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, _, err := bootstrap()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("open state store: %w", err)
		}
		defer store.Close()

		if err := statestore.SetPaused(cmd.Context(), store, paused); err != nil {
			return err
		}
		if paused {
			fmt.Println("Swarm paused")
		} else {
			fmt.Println("Swarm resumed")
		}
		return nil
	}
}
