package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/fyrsmithlabs/swarmd/internal/workflows/devtask"
)

var (
	submitNoApproval   bool
	submitNotify       bool
	submitTargetBranch string
)

var submitCmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Submit a task for development",
	Long: `Submit a task described as JSON from a file or stdin and start its
development run.

Examples:
  # Submit from a file
  swarmd submit task.json

  # Submit from stdin, skipping the human approval gate
  cat task.json | swarmd submit --no-approval -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

var approveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Approve a task waiting at the approval gate",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a running task at its next stage boundary",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the current stage of a task run",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	submitCmd.Flags().BoolVar(&submitNoApproval, "no-approval", false, "skip the human approval gate")
	submitCmd.Flags().BoolVar(&submitNotify, "notify", false, "send an operator notification when the run finishes")
	submitCmd.Flags().StringVar(&submitTargetBranch, "target-branch", "", "merge target branch (default main)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var raw []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read task: %w", err)
	}

	var task devtask.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return fmt.Errorf("decode task: %w", err)
	}
	if task.Title == "" {
		return fmt.Errorf("task title is required")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()[:8]
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}

	cfg, _, err := bootstrap()
	if err != nil {
		return err
	}
	tc, err := dialTemporal(cfg)
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer tc.Close()

	run, err := tc.ExecuteWorkflow(cmd.Context(), client.StartWorkflowOptions{
		ID:        devtask.WorkflowID(task.ID),
		TaskQueue: cfg.Temporal.TaskQueue,
	}, devtask.TaskDevelopmentWorkflow, devtask.TaskInput{
		Task:         task,
		TargetBranch: submitTargetBranch,
		SkipApproval: submitNoApproval,
		NotifyOnDone: submitNotify,
	})
	if err != nil {
		return fmt.Errorf("start task run: %w", err)
	}

	fmt.Printf("Task ID:     %s\n", task.ID)
	fmt.Printf("Workflow ID: %s\n", run.GetID())
	fmt.Printf("Run ID:      %s\n", run.GetRunID())
	if !submitNoApproval {
		fmt.Printf("\nThe run will pause after planning; approve it with:\n  swarmd approve %s\n", task.ID)
	}
	return nil
}

func signalTask(cmd *cobra.Command, taskID, signal, payload string) error {
	cfg, _, err := bootstrap()
	if err != nil {
		return err
	}
	tc, err := dialTemporal(cfg)
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer tc.Close()

	if err := tc.SignalWorkflow(cmd.Context(), devtask.WorkflowID(taskID), "", signal, payload); err != nil {
		return fmt.Errorf("signal task %s: %w", taskID, err)
	}
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	if err := signalTask(cmd, args[0], devtask.SignalApprove, "approved via cli"); err != nil {
		return err
	}
	fmt.Printf("Task %s approved\n", args[0])
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	if err := signalTask(cmd, args[0], devtask.SignalCancel, "cancelled via cli"); err != nil {
		return err
	}
	fmt.Printf("Task %s will cancel at its next stage boundary\n", args[0])
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := bootstrap()
	if err != nil {
		return err
	}
	tc, err := dialTemporal(cfg)
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer tc.Close()

	resp, err := tc.QueryWorkflow(cmd.Context(), devtask.WorkflowID(args[0]), "", devtask.QueryCurrentStage)
	if err != nil {
		return fmt.Errorf("query task %s: %w", args[0], err)
	}
	var stage devtask.Stage
	if err := resp.Get(&stage); err != nil {
		return fmt.Errorf("decode stage: %w", err)
	}
	fmt.Printf("Task %s: %s\n", args[0], stage)
	return nil
}
