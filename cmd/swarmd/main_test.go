package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/swarmd/internal/config"
)

func TestAllCommandsRegistered(t *testing.T) {
	want := []string{
		"worker", "submit", "approve", "cancel", "status",
		"health", "workers", "monitor", "pause", "resume",
	}
	got := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		got[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, got[name], "command %q missing", name)
	}
}

func TestMonitorSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range monitorCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["start"])
	assert.True(t, names["stop"])
}

func TestWorkerIdentityUsesPrefix(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	id := workerIdentity(cfg)
	assert.Regexp(t, `^worker-.+`, id)
}
