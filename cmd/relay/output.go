package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/ShayCichocki/relay/pkg/models"
)

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printStatus prints a message with a colored symbol.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}

// statusColor picks the display color for a task status.
func statusColor(s models.TaskStatus) color.Attribute {
	switch s {
	case models.TaskStatusCompleted:
		return color.FgGreen
	case models.TaskStatusRunning:
		return color.FgCyan
	case models.TaskStatusFrozen:
		return color.FgYellow
	case models.TaskStatusFailed, models.TaskStatusAborted:
		return color.FgRed
	default:
		return color.FgWhite
	}
}

func colorStatus(s models.TaskStatus) string {
	return color.New(statusColor(s)).Sprint(string(s))
}

// ago renders t relative to now, e.g. "3 minutes ago".
func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

// span renders a duration coarsely, e.g. "1h 30m".
func span(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// printTask renders a main task and its sub-tasks.
func printTask(t *models.MainTask, now time.Time) {
	fmt.Printf("%s  %s  [%s]  created %s\n", t.ID, colorStatus(t.Status), t.Priority, ago(t.CreatedAt))
	fmt.Printf("  %s\n", t.Description)
	if t.Error != "" {
		fmt.Printf("  error: %s\n", t.Error)
	}
	for _, sub := range t.SubTasks {
		steps := fmt.Sprintf("%d/%d", sub.CurrentStep, len(sub.Steps))
		session := sub.SessionID
		if session == "" {
			session = "unbound"
		}
		fmt.Printf("  - %-40s %-10s step %-5s %-8s %s\n",
			sub.ID, colorStatus(sub.Status), steps, span(sub.Elapsed(now)), session)
		if sub.Error != "" {
			fmt.Printf("      %s\n", strings.TrimSpace(sub.Error))
		}
	}
}
