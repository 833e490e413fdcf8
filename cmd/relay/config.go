package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key]",
	Short: "Show the effective configuration",
	Long: `Display configuration after defaults, config files and RELAY_* environment
variables have been applied.

Without arguments, displays every value and the files it was read from.
With one argument (key), displays the value for that key.

User configuration lives at ~/.config/relay/config.yaml.
Project-specific overrides can be placed in .relay.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		values := configValues(cfg)

		if len(args) == 1 {
			key := strings.ToLower(args[0])
			for _, kv := range values {
				if kv[0] == key {
					fmt.Println(kv[1])
					return nil
				}
			}
			return fmt.Errorf("unknown configuration key: %s", args[0])
		}

		if jsonOutput {
			return printJSON(cfg)
		}
		for _, kv := range values {
			fmt.Printf("%s: %s\n", kv[0], kv[1])
		}
		fmt.Println()
		fmt.Printf("user config:    %s\n", config.GetUserConfigPath())
		if p := config.GetProjectConfigPath(); p != "" {
			fmt.Printf("project config: %s\n", p)
		}
		return nil
	},
}

// configValues flattens cfg into dot-notation key/value pairs.
func configValues(cfg *config.Config) [][2]string {
	orNone := func(s string) string {
		if s == "" {
			return "(not set)"
		}
		return s
	}
	return [][2]string{
		{"storage.data_dir", cfg.Storage.DataDir},
		{"log.level", cfg.Log.Level},
		{"log.file", orNone(cfg.LogPath())},
		{"orchestrate.default_subtasks", strconv.Itoa(cfg.Orchestrate.DefaultSubtasks)},
		{"orchestrate.default_priority", cfg.Orchestrate.DefaultPriority},
		{"orchestrate.step_estimate", cfg.Orchestrate.StepEstimate.String()},
		{"selection.difficulty", cfg.Selection.Difficulty},
		{"selection.cost", cfg.Selection.Cost},
		{"timeouts.threshold", cfg.Timeouts.Threshold.String()},
		{"cleanup.interval", cfg.Cleanup.Interval.String()},
		{"cleanup.max_age", cfg.Cleanup.MaxAge.String()},
		{"cleanup.zombie_grace", cfg.Cleanup.ZombieGrace.String()},
		{"progress.watch", strconv.FormatBool(cfg.Progress.Watch)},
		{"capabilities.spawn_command", orNone(cfg.Capabilities.SpawnCommand)},
		{"capabilities.send_command", orNone(cfg.Capabilities.SendCommand)},
		{"capabilities.history_command", orNone(cfg.Capabilities.HistoryCommand)},
		{"capabilities.kill_command", orNone(cfg.Capabilities.KillCommand)},
		{"capabilities.command_timeout", cfg.Capabilities.CommandTimeout.String()},
		{"metrics.addr", orNone(cfg.Metrics.Addr)},
	}
}
