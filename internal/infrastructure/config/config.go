// Package config loads the layered application configuration. Defaults are
// overlaid by the global ~/.vtcode/config.yaml, then the project-local
// config, then VTCODE_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"github.com/vtcode/vtcode/internal/infrastructure/hooks"
)

// Config is the application configuration.
type Config struct {
	Agent    AgentConfig    `mapstructure:"agent"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Security SecurityConfig `mapstructure:"security"`
	UI       UIConfig       `mapstructure:"ui"`
	PTY      PTYConfig      `mapstructure:"pty"`
	MCP      MCPConfig      `mapstructure:"mcp"`
	Hooks    HooksConfig    `mapstructure:"hooks"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// AgentConfig bounds the run loop.
type AgentConfig struct {
	DefaultModel    string        `mapstructure:"default_model"`
	Provider        string        `mapstructure:"provider"`
	Workspace       string        `mapstructure:"workspace"`
	MaxToolLoops    int           `mapstructure:"max_tool_loops"`
	ToolRepeatLimit int           `mapstructure:"tool_repeat_limit"`
	MaxToolRetries  int           `mapstructure:"max_tool_retries"`
	ToolTimeout     time.Duration `mapstructure:"tool_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBaseWait   time.Duration `mapstructure:"retry_base_wait"`
	Temperature     float64       `mapstructure:"temperature"`
	ParallelTools   bool          `mapstructure:"parallel_tools"`
	MaxParallel     int           `mapstructure:"max_parallel"`
	PlanMode        bool          `mapstructure:"plan_mode"`
	Autonomous      bool          `mapstructure:"autonomous"`
	FullAuto        bool          `mapstructure:"full_auto"`
}

// ToolsConfig configures the tool policy.
type ToolsConfig struct {
	DefaultPolicy string `mapstructure:"default_policy"` // allow | prompt | deny
}

// SecurityConfig configures the approval surface.
type SecurityConfig struct {
	HumanInTheLoop       bool `mapstructure:"human_in_the_loop"`
	HITLNotificationBell bool `mapstructure:"hitl_notification_bell"`
}

// UIConfig configures inline output handling.
type UIConfig struct {
	ToolOutputSpoolBytes int `mapstructure:"tool_output_spool_bytes"`
	ToolOutputMaxLines   int `mapstructure:"tool_output_max_lines"`
}

// PTYConfig configures terminal output tailing.
type PTYConfig struct {
	StdoutTailLines int `mapstructure:"stdout_tail_lines"`
}

// MCPConfig is consumed only as pass-through to the MCP collaborator.
type MCPConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	Servers []MCPServerConfig `mapstructure:"servers"`
}

// MCPServerConfig describes one MCP server endpoint.
type MCPServerConfig struct {
	Name           string        `mapstructure:"name"`
	Endpoint       string        `mapstructure:"endpoint"`
	Enabled        bool          `mapstructure:"enabled"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// HooksConfig lists the lifecycle hook commands.
type HooksConfig struct {
	Commands []hooks.CommandConfig `mapstructure:"commands"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite | postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the layered configuration.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: global ~/.vtcode/config.yaml
	home, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(home, ".vtcode"))
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Layer 2: project-local config.yaml overlays the global layer.
	for _, localDir := range []string{"./.vtcode", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			local := viper.New()
			local.SetConfigFile(localPath)
			if err := local.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(local.AllSettings())
			}
			break
		}
	}

	// Layer 3: environment variables.
	v.SetEnvPrefix("VTCODE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.max_tool_loops", 24)
	v.SetDefault("agent.tool_repeat_limit", 3)
	v.SetDefault("agent.max_tool_retries", 2)
	v.SetDefault("agent.tool_timeout", "60s")
	v.SetDefault("agent.max_retries", 3)
	v.SetDefault("agent.retry_base_wait", "2s")
	v.SetDefault("agent.temperature", 0.7)
	v.SetDefault("agent.parallel_tools", true)
	v.SetDefault("agent.max_parallel", 4)

	v.SetDefault("tools.default_policy", "prompt")
	v.SetDefault("security.human_in_the_loop", true)
	v.SetDefault("security.hitl_notification_bell", false)

	v.SetDefault("ui.tool_output_spool_bytes", 50000)
	v.SetDefault("ui.tool_output_max_lines", 200)
	v.SetDefault("pty.stdout_tail_lines", 40)

	v.SetDefault("mcp.enabled", false)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", defaultSQLitePath())

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vtcode.db"
	}
	return filepath.Join(home, ".vtcode", "vtcode.db")
}
