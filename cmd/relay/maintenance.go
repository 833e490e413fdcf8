package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/errors"
	"github.com/ShayCichocki/relay/internal/orchestrator"
	"github.com/ShayCichocki/relay/internal/state"
)

var (
	timeoutThreshold time.Duration
	timeoutAutoAbort bool
)

var timeoutsCmd = &cobra.Command{
	Use:   "timeouts",
	Short: "Find sub-tasks running longer than a threshold",
	Long: `List running sub-tasks that started more than --threshold ago (5m-24h).

By default nothing is changed. With --auto-abort each one is terminated and
marked aborted; sub-tasks whose termination fails are left running.

Examples:
  relay timeouts                      # report with the configured threshold
  relay timeouts --threshold 90m
  relay timeouts --auto-abort`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			report, err := a.svc.CheckTimeouts(cmd.Context(), timeoutThreshold, timeoutAutoAbort)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(report)
			}
			if len(report.SubTasks) == 0 {
				printStatus("✓", fmt.Sprintf("No sub-task has run longer than %v", report.Threshold), color.FgGreen)
				return nil
			}
			for _, s := range report.SubTasks {
				line := fmt.Sprintf("%s running for %s (session %s)", s.SubTaskID, span(s.Elapsed), s.SessionID)
				switch {
				case s.Settled != "":
					printStatus("✓", line+": already "+string(s.Settled)+" in the progress ledger", color.FgGreen)
				case s.Aborted:
					printStatus("✓", line+": aborted", color.FgGreen)
				case s.Error != "":
					printStatus("✗", line+": "+s.Error, color.FgRed)
				default:
					printStatus("⚠", line, color.FgYellow)
				}
			}
			if report.AutoAbort {
				fmt.Printf("\n%d aborted, %d failed, %d settled by their workers\n", report.Aborted, report.Failed, report.Settled)
			}
			return nil
		})
	},
}

var cleanupExecute bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reclaim aged-out tasks and finished progress records",
	Long: `Run one reclamation pass:
  - delete main tasks older than cleanup.max_age, whatever their status
  - delete progress records of finished sub-tasks
  - flag zombie sub-tasks: running, no progress record, past the grace period

By default this only reports what would be removed. Pass --execute to delete.

Examples:
  relay cleanup               # report only
  relay cleanup --execute
  relay cleanup history       # recent executed runs`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			report := a.svc.Cleanup(cmd.Context(), !cleanupExecute, orchestrator.TriggerManual)
			if jsonOutput {
				return printJSON(report)
			}

			verb := "Deleted"
			if report.ReportOnly {
				verb = "Would delete"
			}
			fmt.Printf("%s %d main task(s) and %d progress record(s)\n", verb, report.DeletedTasks, report.Ledger.Removed)
			if report.Ledger.Corrupt > 0 {
				printStatus("⚠", fmt.Sprintf("%d corrupt progress record(s) skipped", report.Ledger.Corrupt), color.FgYellow)
			}
			if n := len(report.Ledger.MissingStatus); n > 0 {
				printStatus("⚠", fmt.Sprintf("%d progress record(s) without a status: %s", n, strings.Join(report.Ledger.MissingStatus, ", ")), color.FgYellow)
			}
			for _, z := range report.Zombies {
				printStatus("⚠", fmt.Sprintf("zombie %s: running %s with no progress record", z.SubTaskID, span(z.Elapsed)), color.FgYellow)
			}
			for _, e := range report.Errors {
				printStatus("✗", e, color.FgRed)
			}
			if report.ReportOnly {
				fmt.Println("\nReport only - nothing was removed. Run with --execute to delete.")
			}
			return nil
		})
	},
}

var cleanupHistoryLimit int

var cleanupHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent executed cleanup runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			runs, err := a.archive.ListCleanupRuns(cleanupHistoryLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No cleanup runs recorded.")
				return nil
			}
			for _, r := range runs {
				fmt.Printf("#%d %-9s %s  tasks=%d ledger=%d corrupt=%d zombies=%d errors=%d\n",
					r.ID, r.Trigger, ago(r.StartedAt), r.TasksDeleted, r.LedgerRemoved, r.LedgerCorrupt, r.Zombies, len(r.Errors))
			}
			return nil
		})
	},
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List task store snapshots taken before large deletions",
	Long: `List the task store snapshots taken before large deletions.

Examples:
  relay snapshots
  relay snapshots show 3 > tasks.json   # recover the store document`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			snaps, err := a.archive.ListSnapshots()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(snaps)
			}
			if len(snaps) == 0 {
				fmt.Println("No snapshots.")
				return nil
			}
			for _, s := range snaps {
				fmt.Printf("#%d  %s  %s  %s\n", s.ID, ago(s.CreatedAt), humanize.Bytes(uint64(s.SizeBytes)), s.Reason)
			}
			return nil
		})
	},
}

var snapshotsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Write one snapshot's task store document to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return errors.Validation("show snapshot", "snapshot id must be a positive integer, got %q", args[0])
		}
		return withApp(func(a *app) error {
			return writeSnapshot(os.Stdout, a.archive, id)
		})
	},
}

// writeSnapshot copies the stored document verbatim, so the output can be
// dropped back in place of tasks.json.
func writeSnapshot(w io.Writer, db *state.DB, id int64) error {
	snap, err := db.GetSnapshot(id)
	if err != nil {
		return err
	}
	if snap == nil {
		return errors.NotFound("show snapshot", "snapshot", strconv.FormatInt(id, 10))
	}
	_, err = w.Write(snap.Document)
	return err
}

func init() {
	timeoutsCmd.Flags().DurationVar(&timeoutThreshold, "threshold", 0, "Running time that counts as timed out (default from config)")
	timeoutsCmd.Flags().BoolVar(&timeoutAutoAbort, "auto-abort", false, "Terminate and abort timed-out sub-tasks")

	cleanupCmd.Flags().BoolVar(&cleanupExecute, "execute", false, "Delete instead of only reporting")
	cleanupHistoryCmd.Flags().IntVar(&cleanupHistoryLimit, "limit", 20, "Number of runs to show")
	cleanupCmd.AddCommand(cleanupHistoryCmd)
	snapshotsCmd.AddCommand(snapshotsShowCmd)
}
