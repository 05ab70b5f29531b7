package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/agent"
	"github.com/fyrsmithlabs/swarmd/internal/config"
	"github.com/fyrsmithlabs/swarmd/internal/gitops"
	"github.com/fyrsmithlabs/swarmd/internal/health"
	"github.com/fyrsmithlabs/swarmd/internal/history"
	"github.com/fyrsmithlabs/swarmd/internal/liveness"
	"github.com/fyrsmithlabs/swarmd/internal/notify"
	"github.com/fyrsmithlabs/swarmd/internal/scm"
	"github.com/fyrsmithlabs/swarmd/internal/workflows/devtask"
	"github.com/fyrsmithlabs/swarmd/internal/workflows/selfheal"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a swarm worker process",
	Long: `Run one worker: it polls the shared task queue for workflow and activity
work, publishes its own liveness heartbeat, and keeps running until
interrupted.`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	var sink liveness.HistorySink
	var pruner selfheal.HistoryPruner
	if cfg.Postgres.DSN != "" {
		hs, err := history.NewStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("open heartbeat history: %w", err)
		}
		defer hs.Close()
		sink = hs
		pruner = hs
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.NATS.URL != "" {
		n, err := notify.NewNATSNotifier(cfg.NATS.URL, log)
		if err != nil {
			return fmt.Errorf("connect notifier: %w", err)
		}
		notifier = n
	}

	provider, err := scm.New(cfg.SCM, log)
	if err != nil {
		return err
	}
	if err := provider.ConfigureGitCredentials(ctx); err != nil {
		return fmt.Errorf("configure git credentials: %w", err)
	}

	tc, err := dialTemporal(cfg)
	if err != nil {
		return fmt.Errorf("dial temporal: %w", err)
	}
	defer tc.Close()

	coder := agent.New(cfg.Workers.AgentCommand, cfg.Git.RepoDir, log)
	rollbacker := gitops.NewRollbacker(gitops.NewCommandRunner(cfg.Git.RepoDir, log), log)

	taskActs := devtask.NewActivities(devtask.ActivityDeps{
		Planner:     coder,
		Implementer: coder,
		Reviewer:    coder,
		Deployer:    coder,
		Verifier:    coder,
		Provider:    provider,
		Rollback:    rollbacker,
		Store:       store,
		Starter:     devtask.NewTemporalStarter(tc, cfg.Temporal.TaskQueue),
		Notifier:    notifier,
		Log:         log,
	})

	supervisor := health.NewSupervisor(store,
		health.NewTemporalProbe(tc, cfg.Temporal.Namespace),
		cfg.SelfHeal.CLICommand, log)
	healActs := selfheal.NewActivities(selfheal.ActivityDeps{
		Checker:       supervisor,
		Notifier:      notifier,
		History:       pruner,
		WorkspaceRoot: cfg.Workers.WorkspaceRoot,
		RetentionDays: cfg.SelfHeal.RetentionDays,
		Log:           log,
	})

	w := worker.New(tc, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.Workers.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.Workers.MaxConcurrentWorkflowTasks,
	})
	w.RegisterWorkflow(devtask.TaskDevelopmentWorkflow)
	w.RegisterWorkflow(selfheal.SelfHealWorkflow)
	w.RegisterActivity(taskActs)
	w.RegisterActivity(healActs)

	workerID := workerIdentity(cfg)
	registry := liveness.NewRegistry(store, sink, cfg.Workers.Count, log)
	publisher := liveness.NewPublisher(registry, func(context.Context) liveness.Heartbeat {
		return liveness.Heartbeat{
			WorkerID:   workerID,
			Status:     liveness.StatusHealthy,
			Provider:   string(cfg.SCM.Kind),
			AuthStatus: "configured",
		}
	}, 0, log)
	go publisher.Run(ctx)

	log.Info(ctx, "worker started",
		zap.String("worker_id", workerID),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
	)
	return w.Run(worker.InterruptCh())
}

// workerIdentity builds a stable-enough id: hostname when available, a
// random suffix otherwise, under the configured prefix.
func workerIdentity(cfg *config.Config) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = uuid.NewString()[:8]
	}
	return fmt.Sprintf("%s-%s", cfg.Workers.IDPrefix, host)
}
