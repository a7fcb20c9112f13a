package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dataDir := t.TempDir()
	cfg, err := Load(dataDir)
	require.NoError(t, err)

	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, "127.0.0.1:8377", cfg.Addr)
	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, 3600, cfg.IterationTimeoutSec)
	assert.Equal(t, 600, cfg.InactivityTimeoutSec)
	assert.Equal(t, 300, cfg.ScriptTimeoutSec)
	assert.False(t, cfg.AllowRemoteOrigin)

	assert.Equal(t, filepath.Join(dataDir, "issues"), cfg.IssuesDir())
	assert.Equal(t, filepath.Join(dataDir, "worktrees"), cfg.WorktreesDir())
	assert.Equal(t, filepath.Join(dataDir, "workflows"), cfg.WorkflowsDir())
	assert.Equal(t, filepath.Join(dataDir, "prompts"), cfg.EffectivePromptsDir())
}

func TestLoadConfigFile(t *testing.T) {
	dataDir := t.TempDir()
	content := "addr: 0.0.0.0:9000\nmax_iterations: 4\nallow_remote_origin: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, ConfigFileName), []byte(content), 0644))

	cfg, err := Load(dataDir)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.True(t, cfg.AllowRemoteOrigin)
}

func TestLoadBrokenConfigFile(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, ConfigFileName), []byte(":\n  - nope"), 0644))

	_, err := Load(dataDir)
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("JEEVES_INACTIVITY_TIMEOUT_SEC", "42")
	t.Setenv("JEEVES_AGENT_BIN", "/usr/local/bin/agent")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.InactivityTimeoutSec)
	assert.Equal(t, "/usr/local/bin/agent", cfg.AgentBin)
	assert.Equal(t, float64(42), cfg.InactivityTimeout().Seconds())
}

func TestPromptsDirOverride(t *testing.T) {
	cfg := &Config{DataDir: "/data", PromptsDir: "/custom/prompts"}
	assert.Equal(t, "/custom/prompts", cfg.EffectivePromptsDir())
}
