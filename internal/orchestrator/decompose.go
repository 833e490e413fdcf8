package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/relay/internal/taskstore"
	"github.com/ShayCichocki/relay/pkg/models"
)

// defaultSteps is the declared plan every sub-task starts with.
var defaultSteps = []string{"analyze", "implement", "verify", "report"}

// decompose splits a description into n uniform slices. It is a fixed
// strategy, not a planner: slice i of n owns the i-th share of the work and
// coordinates with its siblings through the main task.
func decompose(description string, n int, model string, stepEstimate time.Duration) []taskstore.SubTaskSpec {
	specs := make([]taskstore.SubTaskSpec, 0, n)
	for i := 1; i <= n; i++ {
		role := fmt.Sprintf("You are worker %d of %d on a shared task. Own slice %d of the work end to end "+
			"and leave the other slices to your siblings.", i, n, i)
		if n == 1 {
			role = "You are the only worker on this task. Own the whole of it end to end."
		}
		specs = append(specs, taskstore.SubTaskSpec{
			Description:       fmt.Sprintf("[%d/%d] %s", i, n, description),
			RolePrompt:        role,
			Steps:             defaultSteps,
			ExpectedOutcome:   fmt.Sprintf("Slice %d of %d is implemented, verified and reported as completed.", i, n),
			Model:             model,
			EstimatedDuration: time.Duration(len(defaultSteps)) * stepEstimate,
		})
	}
	return specs
}

// buildPayload renders the prompt handed to a worker for sub.
func buildPayload(task *models.MainTask, sub *models.SubTask, ledgerPath string) string {
	var b strings.Builder

	b.WriteString(sub.RolePrompt)
	b.WriteString("\n\n## Task\n")
	b.WriteString(sub.Description)
	b.WriteString("\n\nOverall goal: ")
	b.WriteString(task.Description)

	b.WriteString("\n\n## Steps\n")
	for i, step := range sub.Steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}

	if sub.ExpectedOutcome != "" {
		b.WriteString("\n## Expected outcome\n")
		b.WriteString(sub.ExpectedOutcome)
		b.WriteString("\n")
	}

	b.WriteString("\n## Progress reporting\n")
	fmt.Fprintf(&b, "Sub-task ID: %s\nMain task ID: %s\n", sub.ID, task.ID)
	fmt.Fprintf(&b, "Report after every step. Your progress record lives at %s.\n", ledgerPath)
	fmt.Fprintf(&b, "  relay progress report --subtask %s --main %s --step <n> --total %d --status in_progress --message \"...\"\n",
		sub.ID, task.ID, len(sub.Steps))
	b.WriteString("Finish with --status completed, or --status failed with the reason as the message.\n")

	return b.String()
}

// bindHint tells a caller how to bind a manually spawned session.
func bindHint(subTaskID string) string {
	return fmt.Sprintf("relay bind %s <session-id>", subTaskID)
}
