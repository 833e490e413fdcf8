package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/orchestrator"
	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	statusSession string
	statusFilter  string
)

var statusCmd = &cobra.Command{
	Use:   "status [main-task-id]",
	Short: "Show reconciled task status",
	Long: `Display main tasks and their sub-tasks. Before anything is shown, each
unfinished sub-task is reconciled against its progress record, so completions
and failures reported by workers are applied.

Examples:
  relay status                       # every task
  relay status task-1718000000000-ab12cd34
  relay status --session sess-42     # the task bound to a session
  relay status --status running      # tasks with a derived status`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusSession, "session", "", "Find the task bound to this session ID")
	statusCmd.Flags().StringVar(&statusFilter, "status", "", "Only tasks with this derived status")
}

func runStatus(cmd *cobra.Command, args []string) error {
	q := orchestrator.StatusQuery{
		SessionID: statusSession,
		Status:    models.TaskStatus(statusFilter),
	}
	if len(args) == 1 {
		q.MainTaskID = args[0]
	}

	return withApp(func(a *app) error {
		tasks, err := a.svc.Status(q)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(tasks)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks. Run 'relay orchestrate <description>' to start.")
			return nil
		}
		now := time.Now()
		for i, t := range tasks {
			if i > 0 {
				fmt.Println()
			}
			printTask(t, now)
		}
		return nil
	})
}
