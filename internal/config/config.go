// Package config handles configuration loading and management for relay.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/relay/pkg/models"
)

// Bounds shared with the orchestrator.
const (
	MinSubtasks = 1
	MaxSubtasks = 5

	MinTimeoutThreshold = 5 * time.Minute
	MaxTimeoutThreshold = 1440 * time.Minute
)

// Config holds all configuration for relay.
type Config struct {
	Storage      StorageConfig      `mapstructure:"storage"`
	Log          LogConfig          `mapstructure:"log"`
	Orchestrate  OrchestrateConfig  `mapstructure:"orchestrate"`
	Selection    SelectionConfig    `mapstructure:"selection"`
	Timeouts     TimeoutsConfig     `mapstructure:"timeouts"`
	Cleanup      CleanupConfig      `mapstructure:"cleanup"`
	Progress     ProgressConfig     `mapstructure:"progress"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// StorageConfig locates persisted state.
type StorageConfig struct {
	// DataDir is the root for the task store, registry, ledger and logs.
	DataDir string `mapstructure:"data_dir"`
}

// LogConfig holds diagnostic logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	// File is relative to DataDir unless absolute. Empty logs to stderr.
	File string `mapstructure:"file"`
}

// OrchestrateConfig holds defaults for orchestration requests.
type OrchestrateConfig struct {
	DefaultSubtasks int           `mapstructure:"default_subtasks"`
	DefaultPriority string        `mapstructure:"default_priority"`
	StepEstimate    time.Duration `mapstructure:"step_estimate"`
}

// SelectionConfig holds model selector defaults.
type SelectionConfig struct {
	Difficulty string `mapstructure:"difficulty"`
	Cost       string `mapstructure:"cost"`
}

// TimeoutsConfig holds timeout detector settings.
type TimeoutsConfig struct {
	Threshold time.Duration `mapstructure:"threshold"`
}

// CleanupConfig holds reclamation scheduler settings.
type CleanupConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAge      time.Duration `mapstructure:"max_age"`
	ZombieGrace time.Duration `mapstructure:"zombie_grace"`
}

// ProgressConfig holds progress ledger settings.
type ProgressConfig struct {
	// Watch reconciles sub-tasks as soon as their ledger record changes.
	Watch bool `mapstructure:"watch"`
}

// CapabilitiesConfig holds command templates for the external collaborators.
// An empty template means the capability is unavailable in this host.
type CapabilitiesConfig struct {
	SpawnCommand   string        `mapstructure:"spawn_command"`
	SendCommand    string        `mapstructure:"send_command"`
	HistoryCommand string        `mapstructure:"history_command"`
	KillCommand    string        `mapstructure:"kill_command"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
}

// MetricsConfig holds Prometheus exporter settings.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (RELAY_*, e.g. RELAY_STORAGE_DATA_DIR)
// 2. Project config (.relay.yaml in current directory or parent)
// 3. User config (~/.config/relay/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Storage.DataDir = os.ExpandEnv(cfg.Storage.DataDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("storage.data_dir", d.Storage.DataDir)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)

	v.SetDefault("orchestrate.default_subtasks", d.Orchestrate.DefaultSubtasks)
	v.SetDefault("orchestrate.default_priority", d.Orchestrate.DefaultPriority)
	v.SetDefault("orchestrate.step_estimate", d.Orchestrate.StepEstimate.String())

	v.SetDefault("selection.difficulty", d.Selection.Difficulty)
	v.SetDefault("selection.cost", d.Selection.Cost)

	v.SetDefault("timeouts.threshold", d.Timeouts.Threshold.String())

	v.SetDefault("cleanup.interval", d.Cleanup.Interval.String())
	v.SetDefault("cleanup.max_age", d.Cleanup.MaxAge.String())
	v.SetDefault("cleanup.zombie_grace", d.Cleanup.ZombieGrace.String())

	v.SetDefault("progress.watch", d.Progress.Watch)

	v.SetDefault("capabilities.spawn_command", "")
	v.SetDefault("capabilities.send_command", "")
	v.SetDefault("capabilities.history_command", "")
	v.SetDefault("capabilities.kill_command", "")
	v.SetDefault("capabilities.command_timeout", d.Capabilities.CommandTimeout.String())

	v.SetDefault("metrics.addr", "")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "INFO",
			File:  filepath.Join("logs", "relay.log"),
		},
		Orchestrate: OrchestrateConfig{
			DefaultSubtasks: 3,
			DefaultPriority: string(models.PriorityMedium),
			StepEstimate:    5 * time.Minute,
		},
		Selection: SelectionConfig{
			Difficulty: "medium",
			Cost:       "medium",
		},
		Timeouts: TimeoutsConfig{
			Threshold: 60 * time.Minute,
		},
		Cleanup: CleanupConfig{
			Interval:    30 * time.Minute,
			MaxAge:      24 * time.Hour,
			ZombieGrace: 10 * time.Minute,
		},
		Progress: ProgressConfig{
			Watch: true,
		},
		Capabilities: CapabilitiesConfig{
			CommandTimeout: 30 * time.Second,
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	if n := c.Orchestrate.DefaultSubtasks; n < MinSubtasks || n > MaxSubtasks {
		return fmt.Errorf("orchestrate.default_subtasks must be between %d and %d, got %d", MinSubtasks, MaxSubtasks, n)
	}
	if !models.Priority(c.Orchestrate.DefaultPriority).Valid() {
		return fmt.Errorf("orchestrate.default_priority %q is not high, medium or low", c.Orchestrate.DefaultPriority)
	}
	if t := c.Timeouts.Threshold; t < MinTimeoutThreshold || t > MaxTimeoutThreshold {
		return fmt.Errorf("timeouts.threshold must be between %v and %v, got %v", MinTimeoutThreshold, MaxTimeoutThreshold, t)
	}
	if c.Cleanup.Interval <= 0 {
		return fmt.Errorf("cleanup.interval must be positive")
	}
	if c.Cleanup.MaxAge <= 0 {
		return fmt.Errorf("cleanup.max_age must be positive")
	}
	if c.Cleanup.ZombieGrace <= 0 || c.Cleanup.ZombieGrace >= c.Timeouts.Threshold {
		return fmt.Errorf("cleanup.zombie_grace must be positive and shorter than timeouts.threshold")
	}
	return nil
}

// LogPath returns the resolved diagnostic log path, or "" for stderr.
func (c *Config) LogPath() string {
	return c.resolve(c.Log.File)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Storage.DataDir, p)
}

// TaskStoreDir is the directory holding the task store document.
func (c *Config) TaskStoreDir() string { return c.Storage.DataDir }

// RegistryPath is the model registry document.
func (c *Config) RegistryPath() string { return filepath.Join(c.Storage.DataDir, "models.yaml") }

// ProgressDir is the progress ledger directory.
func (c *Config) ProgressDir() string { return filepath.Join(c.Storage.DataDir, "progress") }

// ActivityLogPath is the append-only activity log.
func (c *Config) ActivityLogPath() string { return filepath.Join(c.Storage.DataDir, "activity.jsonl") }

// ArchivePath is the SQLite snapshot archive.
func (c *Config) ArchivePath() string { return filepath.Join(c.Storage.DataDir, "archive.db") }

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// getUserConfigDir returns the XDG config directory for relay.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "relay")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "relay")
	}
	return filepath.Join(home, ".config", "relay")
}

// defaultDataDir returns the XDG data directory for relay.
func defaultDataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", ".relay")
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "relay")
}

// findProjectConfig searches for .relay.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".relay.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}
