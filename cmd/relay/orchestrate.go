package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/orchestrator"
	"github.com/ShayCichocki/relay/internal/registry"
	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	orchSubtasks   int
	orchPriority   string
	orchModels     []string
	orchDifficulty string
	orchCost       string
	orchTags       []string
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate <description>",
	Short: "Decompose a task into sub-tasks and dispatch them",
	Long: `Create a main task, split it into 1-5 uniform sub-tasks and select one
model for all of them.

If a spawn command is configured each sub-task is spawned and bound to the
new session. Otherwise the payload for each sub-task is printed together with
the bind command to run once the session exists.

Examples:
  relay orchestrate "Add pagination to the list endpoint"
  relay orchestrate -n 5 --priority high "Port the parser"
  relay orchestrate --model claude-opus-4-5-20251101 --difficulty complex "Redesign auth"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOrchestrate,
}

func init() {
	orchestrateCmd.Flags().IntVarP(&orchSubtasks, "subtasks", "n", 0, "Number of sub-tasks, 1-5 (default from config)")
	orchestrateCmd.Flags().StringVarP(&orchPriority, "priority", "p", "", "Priority: high, medium or low")
	orchestrateCmd.Flags().StringSliceVar(&orchModels, "model", nil, "Restrict selection to these model IDs")
	orchestrateCmd.Flags().StringVar(&orchDifficulty, "difficulty", "", "Difficulty: basic, medium or complex")
	orchestrateCmd.Flags().StringVar(&orchCost, "cost", "", "Cost preference: low, medium or high")
	orchestrateCmd.Flags().StringSliceVar(&orchTags, "tag", nil, "Capability tags the model must have")
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		res, err := a.svc.Orchestrate(cmd.Context(), orchestrator.OrchestrateRequest{
			Description:  strings.Join(args, " "),
			Priority:     models.Priority(orchPriority),
			SubtaskCount: orchSubtasks,
			AllowList:    orchModels,
			Difficulty:   registry.Difficulty(orchDifficulty),
			Cost:         registry.CostPreference(orchCost),
			Tags:         orchTags,
		})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(res)
		}

		printStatus("✓", fmt.Sprintf("Created %s with %d sub-task(s) on %s", res.Task.ID, len(res.Task.SubTasks), res.Model), color.FgGreen)
		for _, sp := range res.Spawned {
			if sp.Error != "" {
				printStatus("✗", fmt.Sprintf("%s: spawn failed: %s", sp.SubTaskID, sp.Error), color.FgRed)
				continue
			}
			printStatus("✓", fmt.Sprintf("%s: running in session %s", sp.SubTaskID, sp.SessionID), color.FgGreen)
		}
		if len(res.Manual) > 0 {
			printStatus("⚠", "No spawn command configured; start each worker yourself and bind it.", color.FgYellow)
			for _, m := range res.Manual {
				fmt.Printf("\n=== %s (model %s) ===\n%s\nThen: %s\n", m.SubTaskID, m.Model, m.Payload, m.BindHint)
			}
		}
		return nil
	})
}
