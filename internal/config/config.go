// Package config loads swarmd configuration from defaults, an optional
// YAML file, and SWARMD_-prefixed environment variables, in that order of
// precedence (later wins).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/scm"
)

// envPrefix namespaces swarmd environment variables. Nested keys use a
// double underscore: SWARMD_SCM__TOKEN sets scm.token.
const envPrefix = "SWARMD_"

const defaults = `
logging:
  level: info
  format: json
temporal:
  host_port: localhost:7233
  namespace: default
  task_queue: swarmd-tasks
redis:
  url: redis://localhost:6379/0
postgres:
  dsn: ""
nats:
  url: ""
workers:
  count: 4
  id_prefix: worker
  agent_command: swarm-agent
  max_concurrent_activities: 10
  max_concurrent_workflow_tasks: 10
  workspace_root: ""
selfheal:
  interval: 5m
  maintenance_interval: 24h
  max_iterations_per_run: 288
  retention_days: 30
  cli_command: ""
git:
  repo_dir: "."
`

// Config is the root swarmd configuration.
type Config struct {
	Logging  logging.Config `koanf:"logging"`
	Temporal Temporal       `koanf:"temporal"`
	Redis    Redis          `koanf:"redis"`
	Postgres Postgres       `koanf:"postgres"`
	NATS     NATS           `koanf:"nats"`
	SCM      scm.Config     `koanf:"scm"`
	Workers  Workers        `koanf:"workers"`
	SelfHeal SelfHeal       `koanf:"selfheal"`
	Git      Git            `koanf:"git"`
}

type Temporal struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

type Redis struct {
	URL string `koanf:"url"`
}

// Postgres holds the optional heartbeat-history backend. An empty DSN
// disables it.
type Postgres struct {
	DSN string `koanf:"dsn"`
}

// NATS holds the optional notification transport. An empty URL disables it.
type NATS struct {
	URL string `koanf:"url"`
}

type Workers struct {
	Count                      int    `koanf:"count"`
	IDPrefix                   string `koanf:"id_prefix"`
	AgentCommand               string `koanf:"agent_command"`
	MaxConcurrentActivities    int    `koanf:"max_concurrent_activities"`
	MaxConcurrentWorkflowTasks int    `koanf:"max_concurrent_workflow_tasks"`
	WorkspaceRoot              string `koanf:"workspace_root"`
}

type SelfHeal struct {
	Interval            time.Duration `koanf:"interval"`
	MaintenanceInterval time.Duration `koanf:"maintenance_interval"`
	MaxIterationsPerRun int           `koanf:"max_iterations_per_run"`
	RetentionDays       int           `koanf:"retention_days"`
	CLICommand          string        `koanf:"cli_command"`
}

type Git struct {
	RepoDir string `koanf:"repo_dir"`
}

// Load builds the configuration. path may be empty; a missing explicit
// file is an error, env-only operation is not.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaults)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(raw), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps SWARMD_SCM__TOKEN to scm.token: strip the prefix, lower-case,
// and treat double underscores as section separators so single underscores
// survive inside key names.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate rejects configurations the process cannot start with. SCM
// settings are validated by scm.New at client construction, not here,
// because not every command needs a provider.
func (c *Config) Validate() error {
	if c.Temporal.HostPort == "" {
		return fmt.Errorf("config: temporal.host_port is required")
	}
	if c.Temporal.TaskQueue == "" {
		return fmt.Errorf("config: temporal.task_queue is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("config: redis.url is required")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("config: workers.count must be positive, got %d", c.Workers.Count)
	}
	if c.SelfHeal.Interval < time.Second {
		return fmt.Errorf("config: selfheal.interval %s is below the 1s floor", c.SelfHeal.Interval)
	}
	return nil
}
