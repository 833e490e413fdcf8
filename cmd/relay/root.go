package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/errors"
)

var (
	configPath string
	dataDir    string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Sub-task orchestration core",
	Long: `Relay splits a main task into a bounded set of sub-tasks, assigns each a
model from a capability-ranked registry, and tracks every sub-task through
progress reported by external workers.

Core capabilities:
- Uniform decomposition into 1-5 sub-tasks with a declared plan
- First-match model selection from an ordered registry
- Reconciliation of task status against the progress ledger
- Timeout detection with optional auto-abort
- Reclamation of aged-out tasks and finished progress records`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if kind := errors.KindOf(err); kind != "" && kind != errors.KindInternal {
			fmt.Fprintf(os.Stderr, "Error [%s]: %v\n", kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: XDG user config plus .relay.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override storage.data_dir")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	rootCmd.AddCommand(orchestrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(bindCmd)
	rootCmd.AddCommand(abortCmd)
	rootCmd.AddCommand(freezeCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sessionEndCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(timeoutsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
