package main

import (
	"fmt"

	"github.com/spf13/cobra"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/fyrsmithlabs/swarmd/internal/workflows/selfheal"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Control the self-heal monitoring loop",
}

var monitorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the self-heal loop (one per cluster)",
	RunE:  runMonitorStart,
}

var monitorStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the self-heal loop gracefully",
	RunE:  runMonitorStop,
}

func init() {
	monitorCmd.AddCommand(monitorStartCmd)
	monitorCmd.AddCommand(monitorStopCmd)
}

func runMonitorStart(cmd *cobra.Command, args []string) error {
	cfg, _, err := bootstrap()
	if err != nil {
		return err
	}
	tc, err := dialTemporal(cfg)
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer tc.Close()

	// The fixed workflow id plus reject-duplicate makes a second start a
	// no-op instead of a second loop.
	run, err := tc.ExecuteWorkflow(cmd.Context(), client.StartWorkflowOptions{
		ID:                    selfheal.WorkflowID,
		TaskQueue:             cfg.Temporal.TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}, selfheal.SelfHealWorkflow, selfheal.Input{
		Interval:            cfg.SelfHeal.Interval,
		MaintenanceInterval: cfg.SelfHeal.MaintenanceInterval,
		MaxIterationsPerRun: cfg.SelfHeal.MaxIterationsPerRun,
	})
	if err != nil {
		return fmt.Errorf("start self-heal loop: %w", err)
	}

	fmt.Printf("Self-heal loop running (workflow %s, run %s)\n", run.GetID(), run.GetRunID())
	fmt.Printf("Check interval: %s, maintenance every %s\n", cfg.SelfHeal.Interval, cfg.SelfHeal.MaintenanceInterval)
	return nil
}

func runMonitorStop(cmd *cobra.Command, args []string) error {
	cfg, _, err := bootstrap()
	if err != nil {
		return err
	}
	tc, err := dialTemporal(cfg)
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer tc.Close()

	if err := tc.SignalWorkflow(cmd.Context(), selfheal.WorkflowID, "", selfheal.SignalStopMonitoring, "stopped via cli"); err != nil {
		return fmt.Errorf("stop self-heal loop: %w", err)
	}
	fmt.Println("Self-heal loop will stop after its current iteration")
	return nil
}
