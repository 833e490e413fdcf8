package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/pkg/models"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Read and write progress ledger records",
	Long: `Workers report their own progress by writing one record per sub-task to
the progress ledger. The ledger is the source of truth for sub-task completion;
'relay status' reconciles the task store against it.`,
}

var (
	reportSubTask string
	reportMain    string
	reportStep    int
	reportTotal   int
	reportStatus  string
	reportMessage string
)

var progressReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Write the progress record for a sub-task",
	Long: `Write (replace) the progress record for a sub-task. Workers call this
after every step.

Examples:
  relay progress report --subtask <id> --main <id> --step 2 --total 4 --status in_progress
  relay progress report --subtask <id> --main <id> --step 4 --total 4 --status completed
  relay progress report --subtask <id> --main <id> --status failed --message "tests do not build"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			r, err := a.ledger.Write(models.ProgressReport{
				SubTaskID:   reportSubTask,
				MainTaskID:  reportMain,
				CurrentStep: reportStep,
				TotalSteps:  reportTotal,
				Status:      models.ProgressStatus(reportStatus),
				Message:     reportMessage,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(r)
			}
			printStatus("✓", fmt.Sprintf("%s %s %d/%d (%d%%)", r.SubTaskID, r.Status, r.CurrentStep, r.TotalSteps, r.Percentage), color.FgGreen)
			return nil
		})
	},
}

var progressListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every progress record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			listing, err := a.ledger.List()
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(listing)
			}
			if len(listing.Reports) == 0 && len(listing.Corrupt) == 0 {
				fmt.Println("No progress records.")
				return nil
			}
			for _, r := range listing.Reports {
				status := string(r.Status)
				if status == "" {
					status = "(no status)"
				}
				fmt.Printf("%-40s %-12s %d/%d %3d%%  %s\n", r.SubTaskID, status, r.CurrentStep, r.TotalSteps, r.Percentage, ago(r.Timestamp))
				if r.Message != "" {
					fmt.Printf("    %s\n", r.Message)
				}
			}
			for _, id := range listing.Corrupt {
				printStatus("✗", fmt.Sprintf("%s: corrupt record", id), color.FgRed)
			}
			return nil
		})
	},
}

func init() {
	f := progressReportCmd.Flags()
	f.StringVar(&reportSubTask, "subtask", "", "Sub-task ID (required)")
	f.StringVar(&reportMain, "main", "", "Main task ID")
	f.IntVar(&reportStep, "step", 0, "Steps completed")
	f.IntVar(&reportTotal, "total", 0, "Total steps in the plan")
	f.StringVar(&reportStatus, "status", string(models.ProgressInProgress), "in_progress, completed, failed or aborted")
	f.StringVar(&reportMessage, "message", "", "Free-form note, e.g. the failure reason")
	_ = progressReportCmd.MarkFlagRequired("subtask")

	progressCmd.AddCommand(progressReportCmd)
	progressCmd.AddCommand(progressListCmd)
}
