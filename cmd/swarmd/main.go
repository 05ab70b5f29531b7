// Package main implements the swarmd CLI: worker processes, task
// submission and lifecycle signals, the self-heal loop, and operator
// inspection commands.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/fyrsmithlabs/swarmd/internal/config"
	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/statestore"
)

var (
	// cfgPath is the optional YAML config file; env vars still apply on top.
	cfgPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swarmd",
	Short: "Durable task-development swarm orchestrator",
	Long: `swarmd drives coding tasks through plan, approval, implement, review,
deploy, and verify stages on a durable-execution engine, with worker
liveness tracking, a self-heal loop, and bounded automatic fix chains.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(workersCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
}

// bootstrap loads config and builds the logger every command needs.
func bootstrap() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logging.New(&cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

func dialTemporal(cfg *config.Config) (client.Client, error) {
	return client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
}

func openStore(cfg *config.Config) (statestore.Store, error) {
	return statestore.NewRedisStore(cfg.Redis.URL)
}
