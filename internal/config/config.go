// Package config provides configuration management for jeeves. Values come
// from defaults, an optional config.yaml in the data directory, and
// JEEVES_* environment variables, in ascending precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the optional config file inside the data directory.
const ConfigFileName = "config.yaml"

// Config holds the resolved jeeves settings.
type Config struct {
	// DataDir is the root for issues/, worktrees/, workflows/ and prompts/.
	DataDir string `mapstructure:"data_dir"`
	// Addr is the observation server listen address.
	Addr string `mapstructure:"addr"`

	// AgentBin is the agent runner executable.
	AgentBin string `mapstructure:"agent_bin"`
	// PromptsDir overrides <data>/prompts when set.
	PromptsDir string `mapstructure:"prompts_dir"`

	MaxIterations        int `mapstructure:"max_iterations"`
	IterationTimeoutSec  int `mapstructure:"iteration_timeout_sec"`
	InactivityTimeoutSec int `mapstructure:"inactivity_timeout_sec"`
	ScriptTimeoutSec     int `mapstructure:"script_timeout_sec"`

	// AllowRemoteOrigin permits starting runs from non-loopback clients.
	AllowRemoteOrigin bool `mapstructure:"allow_remote_origin"`

	// GitHubToken enables issue metadata fetching at provisioning time.
	GitHubToken string `mapstructure:"github_token"`
}

// Load resolves the configuration. dataDir may be empty, in which case the
// default (or JEEVES_DATA_DIR) applies.
func Load(dataDir string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JEEVES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home, _ := os.UserHomeDir()
	v.SetDefault("data_dir", filepath.Join(home, ".jeeves"))
	v.SetDefault("addr", "127.0.0.1:8377")
	v.SetDefault("agent_bin", "jeeves-agent")
	v.SetDefault("max_iterations", 10)
	v.SetDefault("iteration_timeout_sec", 3600)
	v.SetDefault("inactivity_timeout_sec", 600)
	v.SetDefault("script_timeout_sec", 300)
	v.SetDefault("allow_remote_origin", false)

	if dataDir != "" {
		v.Set("data_dir", dataDir)
	}

	// The config file is optional; only a present-but-broken file fails.
	cfgPath := filepath.Join(v.GetString("data_dir"), ConfigFileName)
	if _, err := os.Stat(cfgPath); err == nil {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", cfgPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// IssuesDir returns <data>/issues.
func (c *Config) IssuesDir() string {
	return filepath.Join(c.DataDir, "issues")
}

// WorktreesDir returns <data>/worktrees.
func (c *Config) WorktreesDir() string {
	return filepath.Join(c.DataDir, "worktrees")
}

// WorkflowsDir returns <data>/workflows.
func (c *Config) WorkflowsDir() string {
	return filepath.Join(c.DataDir, "workflows")
}

// ReposDir returns <data>/repos, where clones live.
func (c *Config) ReposDir() string {
	return filepath.Join(c.DataDir, "repos")
}

// EffectivePromptsDir returns the prompts directory, defaulting under data.
func (c *Config) EffectivePromptsDir() string {
	if c.PromptsDir != "" {
		return c.PromptsDir
	}
	return filepath.Join(c.DataDir, "prompts")
}

// IterationTimeout returns the iteration wall-clock limit.
func (c *Config) IterationTimeout() time.Duration {
	return time.Duration(c.IterationTimeoutSec) * time.Second
}

// InactivityTimeout returns the no-output limit.
func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.InactivityTimeoutSec) * time.Second
}

// ScriptTimeout returns the script phase limit.
func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.ScriptTimeoutSec) * time.Second
}
